package main

import (
	"context"
	"log"
	"net"
	"sync/atomic"
)

// maxVoiceDatagram is the largest UDP payload the relay will forward.
// The wire convention (counter || AES-CTR(opus_frame)) fits comfortably
// under typical MTU; anything larger is rejected rather than fragmented.
const maxVoiceDatagram = 1500

// VoiceRelay is the UDP fan-out half of the server: it looks up the sender
// of each datagram by source (ip, port), finds the sender's channel, and
// writes the datagram verbatim to every other member's registered UDP
// endpoint. Grounded in the original source's onVoiceDataReceived/
// broadcastVoiceToChannel (server.cpp), adapted to a plain net.UDPConn
// instead of the teacher's WebTransport datagram session.
type VoiceRelay struct {
	srv  *Server
	conn *net.UDPConn

	totalDatagrams atomic.Uint64
	totalBytes     atomic.Uint64
}

func NewVoiceRelay(srv *Server) *VoiceRelay {
	return &VoiceRelay{srv: srv}
}

// Run binds the UDP voice port and relays datagrams until ctx is canceled.
func (v *VoiceRelay) Run(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	v.conn = conn

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Printf("[voice] listening on %s", addr)
	// One spare byte lets an oversized datagram be detected instead of being
	// silently truncated to maxVoiceDatagram.
	buf := make([]byte, maxVoiceDatagram+1)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if n > maxVoiceDatagram {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		v.relay(from, data)
	}
}

func (v *VoiceRelay) relay(from *net.UDPAddr, data []byte) {
	sender := v.srv.endpoints.Get(from.IP.String(), from.Port)
	if sender == nil {
		return // no registered connection for this source — silently ignore
	}
	if !sender.authenticated.Load() {
		return
	}
	channel := sender.getCurrentChannel()
	if channel == "" {
		return
	}

	v.totalDatagrams.Add(1)
	v.totalBytes.Add(uint64(len(data)))

	for _, member := range v.srv.channels.MembersOf(channel) {
		if member == sender {
			continue // never echo back to the source, even if it's its own member set
		}
		ip, port := member.getUDPEndpoint()
		if ip == "" || port == 0 {
			continue
		}
		dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
		if _, err := v.conn.WriteToUDP(data, dst); err != nil {
			log.Printf("[voice] write to %s: %v", dst, err)
		}
	}
}

// Stats returns accumulated datagram/byte counts since the last call and
// resets them, matching the teacher's Room.Stats() reset-on-read idiom
// (room.go).
func (v *VoiceRelay) Stats() (datagrams, bytes uint64) {
	return v.totalDatagrams.Swap(0), v.totalBytes.Swap(0)
}

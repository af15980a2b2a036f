package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"vorel/store"
)

// EndpointRegistry maps a voice-plane UDP source address to the control
// connection that registered it, so the voice relay can find the sender's
// channel without parsing the datagram. Grounded in the original source's
// linear client scan (server.cpp:onVoiceDataReceived), generalized to a map
// for O(1) lookup.
type EndpointRegistry struct {
	mu    sync.RWMutex
	byKey map[string]*Connection
}

func NewEndpointRegistry() *EndpointRegistry {
	return &EndpointRegistry{byKey: make(map[string]*Connection)}
}

func endpointKey(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

func (r *EndpointRegistry) Set(ip string, port int, conn *Connection) {
	r.mu.Lock()
	r.byKey[endpointKey(ip, port)] = conn
	r.mu.Unlock()
}

func (r *EndpointRegistry) Get(ip string, port int) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[endpointKey(ip, port)]
}

func (r *EndpointRegistry) Remove(ip string, port int) {
	if ip == "" && port == 0 {
		return
	}
	r.mu.Lock()
	delete(r.byKey, endpointKey(ip, port))
	r.mu.Unlock()
}

// Server owns the control-plane listener and every shared registry: the
// session table, the channel registry, the UDP endpoint reverse-lookup, and
// the persistent user store. One goroutine per accepted connection, matching
// the teacher's per-client goroutine model (room.go/client.go).
type Server struct {
	store     *store.Store
	sessions  *SessionRegistry
	channels  *ChannelRegistry
	endpoints *EndpointRegistry

	voicePort int
	rateLimit int

	maxConnections int
	perIPLimit     int
	ipMu           sync.Mutex
	ipConns        map[string]int

	totalConns atomic.Int64
}

func NewServer(st *store.Store, voicePort, rateLimit, maxConnections, perIPLimit int) *Server {
	return &Server{
		store:          st,
		sessions:       NewSessionRegistry(),
		channels:       NewChannelRegistry(),
		endpoints:      NewEndpointRegistry(),
		voicePort:      voicePort,
		rateLimit:      rateLimit,
		maxConnections: maxConnections,
		perIPLimit:     perIPLimit,
		ipConns:        make(map[string]int),
	}
}

// Run listens on addr and accepts control connections until ctx is
// canceled.
func (srv *Server) Run(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("[control] listening on %s", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[control] accept error: %v", err)
			continue
		}
		if !srv.canAccept(conn) {
			conn.Close()
			continue
		}
		go srv.handleConnection(conn)
	}
}

func (srv *Server) canAccept(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	srv.ipMu.Lock()
	defer srv.ipMu.Unlock()

	if srv.maxConnections > 0 && int(srv.totalConns.Load()) >= srv.maxConnections {
		return false
	}
	if srv.perIPLimit > 0 && srv.ipConns[host] >= srv.perIPLimit {
		return false
	}
	srv.ipConns[host]++
	srv.totalConns.Add(1)
	return true
}

func (srv *Server) releaseIP(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	srv.ipMu.Lock()
	srv.ipConns[host]--
	if srv.ipConns[host] <= 0 {
		delete(srv.ipConns, host)
	}
	srv.ipMu.Unlock()
	srv.totalConns.Add(-1)
}

// teardown runs the full disconnect path for c: channel departure with a
// user_left broadcast, session destruction, endpoint deregistration, and
// socket close.
func (srv *Server) teardown(c *Connection) {
	defer srv.releaseIP(c.conn)
	defer c.conn.Close()

	username := c.getUsername()
	channel := c.getCurrentChannel()
	if channel != "" {
		srv.channels.Leave(c)
		if username != "" {
			notifyUserLeft(srv, channel, username)
		}
	}

	if id := c.getSessionID(); id != "" {
		srv.sessions.Remove(id)
	}

	ip, port := c.getUDPEndpoint()
	srv.endpoints.Remove(ip, port)
}

func notifyUserLeft(srv *Server, channel, username string) {
	data, err := json.Marshal(ControlMsg{Type: "user_left", Username: username})
	if err != nil {
		log.Printf("[control] marshal error: %v", err)
		return
	}
	srv.channels.Broadcast(channel, data, nil)
}

package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Connection is a live TCP control connection, owned by the control
// endpoint. Destroyed on socket close, which also triggers channel
// departure (see Server.handleConnection's teardown path).
type Connection struct {
	conn   net.Conn
	server *Server

	writeMu sync.Mutex // serializes writes to conn

	authenticated atomic.Bool
	sessionID     atomic.Value // string
	username      atomic.Value // string
	sessionKey    atomic.Value // []byte

	channelMu      sync.RWMutex
	currentChannel string // empty ⇔ not joined

	udpMu      sync.RWMutex
	udpAddress string
	udpPort    int

	limiter *rate.Limiter
}

func newConnection(conn net.Conn, srv *Server) *Connection {
	c := &Connection{conn: conn, server: srv}
	c.sessionID.Store("")
	c.username.Store("")
	if srv.rateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(srv.rateLimit), srv.rateLimit)
	}
	return c
}

func (c *Connection) getSessionID() string { return c.sessionID.Load().(string) }
func (c *Connection) getUsername() string  { return c.username.Load().(string) }

func (c *Connection) getSessionKey() []byte {
	v := c.sessionKey.Load()
	if v == nil {
		return nil
	}
	return v.([]byte)
}

func (c *Connection) getCurrentChannel() string {
	c.channelMu.RLock()
	defer c.channelMu.RUnlock()
	return c.currentChannel
}

func (c *Connection) setCurrentChannel(name string) {
	c.channelMu.Lock()
	c.currentChannel = name
	c.channelMu.Unlock()
}

func (c *Connection) setUDPEndpoint(ip string, port int) {
	c.udpMu.Lock()
	c.udpAddress, c.udpPort = ip, port
	c.udpMu.Unlock()
}

func (c *Connection) getUDPEndpoint() (string, int) {
	c.udpMu.RLock()
	defer c.udpMu.RUnlock()
	return c.udpAddress, c.udpPort
}

// writeRaw writes a pre-framed (newline-terminated) line to the control
// socket. Failed writes are swallowed; the read loop's error path tears the
// connection down.
func (c *Connection) writeRaw(line []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(line); err != nil {
		log.Printf("[conn] write error: %v", err)
	}
}

// sendClear marshals msg to compact JSON and writes it newline-terminated,
// in the clear.
func (c *Connection) sendClear(msg ControlMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[conn] marshal error: %v", err)
		return
	}
	c.writeRaw(append(data, '\n'))
}

// sendEncrypted marshals msg to compact JSON, encrypts it under the
// connection's session key with encryptEnvelope, base64-encodes the result,
// and writes it newline-terminated.
func (c *Connection) sendEncrypted(msg ControlMsg) {
	key := c.getSessionKey()
	if key == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[conn] marshal error: %v", err)
		return
	}
	blob := encryptEnvelope(data, key)
	if blob == nil {
		log.Printf("[conn] encrypt error")
		return
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(blob))
	c.writeRaw(append(encoded, '\n'))
}

func (c *Connection) sendError(message string) {
	c.sendClear(ControlMsg{Type: "error", Message: message})
}

// handleConnection drives one control connection from accept to teardown:
// newline-delimited frame reading, pre-auth clear JSON vs. post-auth
// base64(AES-CBC envelope) JSON decoding, and dispatch into the protocol
// state machine.
func (srv *Server) handleConnection(conn net.Conn) {
	c := newConnection(conn, srv)
	defer srv.teardown(c)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.dispatchFrame(trimNewline(line))
		}
		if err != nil {
			return
		}
	}
}

func trimNewline(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		return line[:n-1]
	}
	return line
}

// dispatchFrame decodes one newline-delimited frame per spec §4.3 and hands
// the resulting message to processControl. Frames that decode to neither an
// encrypted nor a clear JSON object are discarded silently.
func (c *Connection) dispatchFrame(frame []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		return
	}

	if c.authenticated.Load() {
		if msg, ok := c.tryDecryptFrame(frame); ok {
			c.server.processControl(c, msg)
			return
		}
	}

	var msg ControlMsg
	if err := json.Unmarshal(frame, &msg); err == nil && msg.Type != "" {
		c.server.processControl(c, msg)
		return
	}
	// Neither decryption nor clear JSON parse succeeded — discard silently.
}

// tryDecryptFrame attempts to base64-decode frame and decrypt it with the
// connection's session key. Returns ok=false on any failure (malformed
// base64, wrong padding, truncated ciphertext) so the caller can fall back
// to the clear-JSON path.
func (c *Connection) tryDecryptFrame(frame []byte) (ControlMsg, bool) {
	var msg ControlMsg
	key := c.getSessionKey()
	if key == nil {
		return msg, false
	}
	blob, err := base64.StdEncoding.DecodeString(string(frame))
	if err != nil {
		return msg, false
	}
	plaintext := decryptEnvelope(blob, key)
	if plaintext == nil {
		return msg, false
	}
	if err := json.Unmarshal(plaintext, &msg); err != nil || msg.Type == "" {
		return msg, false
	}
	return msg, true
}

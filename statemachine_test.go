package main

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net"
	"testing"
	"time"

	"vorel/store"
)

// testPasswordHash returns the hex-encoded SHA-256 digest a client would send
// as password_hash, matching hashPassword's output encoding.
func testPasswordHash(password string) string {
	sum := hashPassword(password)
	return hex.EncodeToString(sum[:])
}

// smTestServer builds a Server over an in-memory store with the two default
// channels seeded, matching what main.go does at startup.
func smTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := NewServer(st, defaultVoicePort, 0, 0, 0)
	if err := srv.channels.SeedDefaults(); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	return srv
}

// smTestClient wires a Connection to one end of a loopback TCP connection and
// returns a reader over the peer end for inspecting replies. The socket
// buffers let processControl's synchronous writes complete before the test
// reads them.
func smTestClient(t *testing.T, srv *Server) (*Connection, *bufio.Reader) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	remote, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	local, err := ln.Accept()
	if err != nil {
		remote.Close()
		t.Fatalf("Accept: %v", err)
	}
	c := newConnection(local, srv)
	t.Cleanup(func() { local.Close(); remote.Close() })
	return c, bufio.NewReader(remote)
}

func readMsg(t *testing.T, r *bufio.Reader, key []byte) ControlMsg {
	t.Helper()
	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadBytes('\n')
		ch <- result{line, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read: %v", res.err)
		}
		line := res.line[:len(res.line)-1]

		var msg ControlMsg
		if key != nil {
			blob, err := base64.StdEncoding.DecodeString(string(line))
			if err == nil {
				if plain := decryptEnvelope(blob, key); plain != nil {
					if json.Unmarshal(plain, &msg) == nil {
						return msg
					}
				}
			}
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return ControlMsg{}
	}
}

// S1: register then login succeeds and yields session material.
func TestScenarioRegisterThenLogin(t *testing.T) {
	srv := smTestServer(t)
	c, r := smTestClient(t, srv)

	passwordHash := testPasswordHash("correct horse battery staple")

	srv.processControl(c, ControlMsg{Type: "register", Username: "mike", PasswordHash: passwordHash})
	reg := readMsg(t, r, nil)
	if reg.Type != "register_success" {
		t.Fatalf("register reply = %+v", reg)
	}

	srv.processControl(c, ControlMsg{Type: "login", Username: "mike", PasswordHash: passwordHash})
	login := readMsg(t, r, nil)
	if login.Type != "login_success" {
		t.Fatalf("login reply = %+v", login)
	}
	if login.SessionID == "" || login.SessionKey == "" {
		t.Fatalf("login_success missing session material: %+v", login)
	}
	if !c.authenticated.Load() {
		t.Fatal("connection not marked authenticated after login_success")
	}
}

// S2: registering the same username twice fails the second time.
func TestScenarioDuplicateRegisterFails(t *testing.T) {
	srv := smTestServer(t)
	c, r := smTestClient(t, srv)
	passwordHash := testPasswordHash("hunter2")

	srv.processControl(c, ControlMsg{Type: "register", Username: "zara", PasswordHash: passwordHash})
	readMsg(t, r, nil)

	srv.processControl(c, ControlMsg{Type: "register", Username: "zara", PasswordHash: passwordHash})
	reply := readMsg(t, r, nil)
	if reply.Type != "error" {
		t.Fatalf("second register reply = %+v, want error", reply)
	}
	if reply.Message != "Registration failed - user may already exist" {
		t.Fatalf("message = %q", reply.Message)
	}
}

// S3: an unauthenticated connection cannot join a channel.
func TestScenarioUnauthenticatedJoinRejected(t *testing.T) {
	srv := smTestServer(t)
	c, r := smTestClient(t, srv)

	srv.processControl(c, ControlMsg{Type: "join_channel", Channel: "General"})
	reply := readMsg(t, r, nil)
	if reply.Type != "error" || reply.Message != "Authentication required" {
		t.Fatalf("reply = %+v, want Authentication required error", reply)
	}
}

// S4: two authenticated clients joining the same channel receive the same
// channel key and a user_joined broadcast.
func TestScenarioSharedChannelKeyAndBroadcast(t *testing.T) {
	srv := smTestServer(t)
	a, aR := loginAs(t, srv, "mike")
	b, bR := loginAs(t, srv, "zara")

	srv.processControl(a, ControlMsg{Type: "join_channel", Channel: "General"})
	aJoin := readMsg(t, aR, a.getSessionKey())
	if aJoin.Type != "join_success" {
		t.Fatalf("a join reply = %+v", aJoin)
	}
	readMsg(t, aR, nil) // user_list

	srv.processControl(b, ControlMsg{Type: "join_channel", Channel: "General"})
	bJoin := readMsg(t, bR, b.getSessionKey())
	if bJoin.Type != "join_success" {
		t.Fatalf("b join reply = %+v", bJoin)
	}
	readMsg(t, bR, nil) // user_list

	if aJoin.ChannelKey != bJoin.ChannelKey {
		t.Fatalf("channel keys differ: %q vs %q", aJoin.ChannelKey, bJoin.ChannelKey)
	}

	broadcast := readMsg(t, aR, nil) // a observes b's user_joined
	if broadcast.Type != "user_joined" || broadcast.Username != "zara" {
		t.Fatalf("broadcast = %+v", broadcast)
	}
}

// S6: leaving a channel broadcasts user_left to the remaining member.
func TestScenarioLeaveBroadcastsUserLeft(t *testing.T) {
	srv := smTestServer(t)
	a, aR := loginAs(t, srv, "mike")
	b, bR := loginAs(t, srv, "zara")

	srv.processControl(a, ControlMsg{Type: "join_channel", Channel: "General"})
	readMsg(t, aR, a.getSessionKey())
	readMsg(t, aR, nil)

	srv.processControl(b, ControlMsg{Type: "join_channel", Channel: "General"})
	readMsg(t, bR, b.getSessionKey())
	readMsg(t, bR, nil)
	readMsg(t, aR, nil) // a's user_joined for b

	srv.processControl(b, ControlMsg{Type: "leave_channel"})
	leaveReply := readMsg(t, bR, b.getSessionKey())
	if leaveReply.Type != "leave_success" {
		t.Fatalf("leave reply = %+v", leaveReply)
	}

	left := readMsg(t, aR, nil)
	if left.Type != "user_left" || left.Username != "zara" {
		t.Fatalf("user_left broadcast = %+v", left)
	}
}

// loginAs registers and logs in a fresh user, draining the register/login
// replies, and returns the authenticated connection and its reply reader.
func loginAs(t *testing.T, srv *Server, username string) (*Connection, *bufio.Reader) {
	t.Helper()
	c, r := smTestClient(t, srv)
	passwordHash := testPasswordHash("p@ssw0rd-" + username)

	srv.processControl(c, ControlMsg{Type: "register", Username: username, PasswordHash: passwordHash})
	readMsg(t, r, nil)

	srv.processControl(c, ControlMsg{Type: "login", Username: username, PasswordHash: passwordHash})
	readMsg(t, r, nil)
	return c, r
}

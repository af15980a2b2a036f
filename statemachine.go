package main

import (
	"encoding/hex"
	"encoding/json"
	"log"

	"vorel/store"
)

// processControl is the protocol state machine: a function over
// (connection state, message) per the teacher's processControl (client.go),
// generalized from the chat/voice protocol to spec §4.4's
// register/login/join_channel/leave_channel/get_channels machine.
func (srv *Server) processControl(c *Connection, msg ControlMsg) {
	switch msg.Type {
	case "register":
		srv.handleRegister(c, msg)
	case "login":
		srv.handleLogin(c, msg)
	case "join_channel":
		srv.handleJoinChannel(c, msg)
	case "leave_channel":
		srv.handleLeaveChannel(c, msg)
	case "get_channels":
		srv.handleGetChannels(c, msg)
	default:
		if !c.authenticated.Load() {
			c.sendError("Authentication required")
		}
		// Unknown message types on an authenticated connection are ignored,
		// matching the "input errors are discarded silently" taxonomy (§7).
	}
}

func (srv *Server) handleRegister(c *Connection, msg ControlMsg) {
	if msg.Username == "" || msg.PasswordHash == "" {
		c.sendError("Registration failed - user may already exist")
		return
	}
	if err := srv.store.RegisterUser(msg.Username, msg.PasswordHash, store.User); err != nil {
		c.sendError("Registration failed - user may already exist")
		return
	}
	c.sendClear(ControlMsg{Type: "register_success"})
}

func (srv *Server) handleLogin(c *Connection, msg ControlMsg) {
	if c.authenticated.Load() {
		// A second login on an already-authenticated connection is
		// undefined by the source; treat it as a protocol error rather
		// than silently mutating the live session (§9 open question 4 is
		// about register, not login — login only ever transitions ANON→AUTH).
		c.sendError("Authentication required")
		return
	}

	cred, ok, err := srv.store.Authenticate(msg.Username, msg.PasswordHash)
	if err != nil {
		log.Printf("[control] authenticate: %v", err)
		c.sendError("Authentication failed")
		return
	}
	if !ok {
		c.sendError("Authentication failed")
		return
	}

	sess, err := srv.sessions.Create(cred.Username)
	if err != nil {
		log.Printf("[control] create session: %v", err)
		c.sendError("Authentication failed")
		return
	}

	c.username.Store(cred.Username)
	c.sessionID.Store(sess.ID)
	c.sessionKey.Store(sess.SessionKey)
	c.authenticated.Store(true)

	if msg.UDPIP != "" && msg.UDPPort != 0 {
		c.setUDPEndpoint(msg.UDPIP, msg.UDPPort)
		srv.endpoints.Set(msg.UDPIP, msg.UDPPort, c)
	}

	c.sendClear(ControlMsg{
		Type:       "login_success",
		VoicePort:  srv.voicePort,
		SessionID:  sess.ID,
		SessionKey: hex.EncodeToString(sess.SessionKey),
	})
}

func (srv *Server) handleJoinChannel(c *Connection, msg ControlMsg) {
	if !c.authenticated.Load() {
		c.sendError("Authentication required")
		return
	}
	if msg.Channel == "" {
		c.sendError("Channel name required")
		return
	}

	previous := c.getCurrentChannel()
	username := c.getUsername()

	if previous != "" {
		srv.channels.Leave(c)
		notifyUserLeft(srv, previous, username)
	}

	ch, err := srv.channels.Join(c, msg.Channel)
	if err != nil {
		log.Printf("[control] join channel: %v", err)
		c.sendError("Join failed")
		return
	}

	c.sendEncrypted(ControlMsg{
		Type:       "join_success",
		Channel:    ch.Name,
		ChannelKey: hex.EncodeToString(ch.Key),
	})

	c.sendClear(ControlMsg{
		Type:    "user_list",
		Channel: ch.Name,
		Users:   channelUsers(srv, ch.Name),
	})

	data, merr := json.Marshal(ControlMsg{Type: "user_joined", Username: username})
	if merr != nil {
		log.Printf("[control] marshal user_joined: %v", merr)
		return
	}
	srv.channels.Broadcast(ch.Name, data, c)
}

func (srv *Server) handleLeaveChannel(c *Connection, msg ControlMsg) {
	if !c.authenticated.Load() {
		c.sendError("Authentication required")
		return
	}
	channel := c.getCurrentChannel()
	if channel == "" {
		c.sendError("Not in a channel")
		return
	}

	username := c.getUsername()
	srv.channels.Leave(c)
	notifyUserLeft(srv, channel, username)
	c.sendEncrypted(ControlMsg{Type: "leave_success"})
}

func (srv *Server) handleGetChannels(c *Connection, msg ControlMsg) {
	if !c.authenticated.Load() {
		c.sendError("Authentication required")
		return
	}
	c.sendClear(ControlMsg{
		Type:     "channel_list",
		Channels: srv.channels.SnapshotList(),
	})
}

func channelUsers(srv *Server, channel string) []UserInfo {
	members := srv.channels.MembersOf(channel)
	users := make([]UserInfo, 0, len(members))
	for _, m := range members {
		if name := m.getUsername(); name != "" {
			users = append(users, UserInfo{Username: name})
		}
	}
	return users
}

package main

import (
	"log"
	"sort"
	"sync"
)

// Channel is a named room: a set of member connections and a fixed
// symmetric key distributed to each member on join. The key never rotates
// for the life of the process (spec §3: channelKey is fixed for the life of
// the server process).
type Channel struct {
	Name    string
	Key     []byte
	members map[*Connection]struct{}
}

// ChannelRegistry holds every channel, keyed by name, and the membership of
// each. Generalized from the teacher's Room.channels/Room.clients pair
// (room.go), with one mutex protecting the whole registry — channels and
// membership are never locked independently of one another, so a single
// lock avoids the nested-lock deadlock risk a per-channel lock would invite.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*Channel)}
}

// SeedDefaults creates the two channels that exist at server start, matching
// the original client's m_channels["General"]/m_channels["Gaming"] seeding.
func (r *ChannelRegistry) SeedDefaults() error {
	for _, name := range []string{"General", "Gaming"} {
		if _, err := r.ensureChannelLocked(name); err != nil {
			return err
		}
	}
	return nil
}

// ensureChannel returns the named channel, creating it (with a freshly
// generated key) on first use.
func (r *ChannelRegistry) ensureChannel(name string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureChannelLocked(name)
}

func (r *ChannelRegistry) ensureChannelLocked(name string) (*Channel, error) {
	if ch, ok := r.channels[name]; ok {
		return ch, nil
	}
	key, err := generateToken(keySize)
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		Name:    name,
		Key:     key,
		members: make(map[*Connection]struct{}),
	}
	r.channels[name] = ch
	log.Printf("[channels] created %q", name)
	return ch, nil
}

// Join removes conn from its current channel (if any) and adds it to name,
// lazily creating name if it doesn't exist. Returns the joined channel.
func (r *ChannelRegistry) Join(conn *Connection, name string) (*Channel, error) {
	r.Leave(conn)

	ch, err := r.ensureChannel(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	ch.members[conn] = struct{}{}
	r.mu.Unlock()

	conn.setCurrentChannel(name)
	return ch, nil
}

// Leave removes conn from whatever channel it currently occupies. It is a
// no-op if conn is not in any channel.
func (r *ChannelRegistry) Leave(conn *Connection) {
	name := conn.getCurrentChannel()
	if name == "" {
		return
	}

	r.mu.Lock()
	if ch, ok := r.channels[name]; ok {
		delete(ch.members, conn)
	}
	r.mu.Unlock()

	conn.setCurrentChannel("")
}

// MembersOf returns a snapshot of the connections currently in name.
func (r *ChannelRegistry) MembersOf(name string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(ch.members))
	for c := range ch.members {
		out = append(out, c)
	}
	return out
}

// ChannelKeyOf returns the symmetric key for name, or nil if the channel
// does not exist.
func (r *ChannelRegistry) ChannelKeyOf(name string) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil
	}
	return ch.Key
}

// SnapshotList returns every channel's name and current member count,
// ordered by name for deterministic output.
func (r *ChannelRegistry) SnapshotList() []ChannelCount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ChannelCount, 0, len(r.channels))
	for name, ch := range r.channels {
		out = append(out, ChannelCount{Name: name, UserCount: len(ch.members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// broadcastTarget is a snapshot of one member's control writer, captured
// under the registry's read lock so the lock can be released before the
// (potentially slow) socket write happens — the same snapshot-then-release
// discipline as the teacher's Room.Broadcast (room.go).
type broadcastTarget struct {
	conn *Connection
}

// targetPool recycles the []broadcastTarget slices used by Broadcast to
// avoid an allocation on every call.
var targetPool = sync.Pool{
	New: func() any {
		s := make([]broadcastTarget, 0, 8)
		return &s
	},
}

// Broadcast writes frame, followed by a newline, to every member of name
// except exclude. Failed writes are swallowed — the connection's own close
// handler is responsible for cleanup.
func (r *ChannelRegistry) Broadcast(name string, frame []byte, exclude *Connection) {
	r.mu.RLock()
	ch, ok := r.channels[name]
	if !ok {
		r.mu.RUnlock()
		return
	}

	sp := targetPool.Get().(*[]broadcastTarget)
	targets := (*sp)[:0]
	for c := range ch.members {
		if c == exclude {
			continue
		}
		targets = append(targets, broadcastTarget{conn: c})
	}
	r.mu.RUnlock()

	line := append(append([]byte(nil), frame...), '\n')
	for _, t := range targets {
		t.conn.writeRaw(line)
	}

	*sp = targets
	targetPool.Put(sp)
}

// Count returns the number of channels currently registered.
func (r *ChannelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

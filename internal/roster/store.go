// Package roster tracks the known participants of each conversation.
//
// Membership is best-effort by nature: the platforms offer no way to list a
// conversation's members, so a participant is known only once a join event or
// an authored message has been observed during this process lifetime.
package roster

import "sync"

// Participant is one user known to be present in a conversation.
type Participant struct {
	ID     string
	Handle string
}

// Store holds one roster per conversation key. All methods are safe for
// concurrent use; conversations never contend with each other.
type Store struct {
	mu     sync.RWMutex
	convos map[string]*conversation
}

type conversation struct {
	mu      sync.RWMutex
	members map[string]*member
	seq     uint64
}

type member struct {
	handle string
	order  uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{convos: make(map[string]*conversation)}
}

// Upsert records that userID is present in the conversation, inserting the
// participant or refreshing the stored handle (last observed value wins).
// A participant's position in Snapshot order is fixed at first insert.
func (s *Store) Upsert(convo, userID, handle string) {
	c := s.conversation(convo, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[userID]; ok {
		m.handle = handle
		return
	}
	c.seq++
	c.members[userID] = &member{handle: handle, order: c.seq}
}

// Remove drops the participant from the conversation. Removing a user that
// was never recorded is a no-op, not an error. A later Upsert re-adds the
// user at a new position.
func (s *Store) Remove(convo, userID string) {
	c := s.conversation(convo, false)
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, userID)
}

// Snapshot returns a point-in-time copy of the present participants, in
// ascending join order. An unknown conversation yields an empty slice.
func (s *Store) Snapshot(convo string) []Participant {
	c := s.conversation(convo, false)
	if c == nil {
		return nil
	}
	c.mu.RLock()
	type entry struct {
		p     Participant
		order uint64
	}
	entries := make([]entry, 0, len(c.members))
	for id, m := range c.members {
		entries = append(entries, entry{Participant{ID: id, Handle: m.handle}, m.order})
	}
	c.mu.RUnlock()

	// Insertion sort: rosters are small and mostly appended in order.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].order > entries[j].order; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
	out := make([]Participant, len(entries))
	for i, e := range entries {
		out[i] = e.p
	}
	return out
}

// Len reports how many participants are currently tracked for a conversation.
func (s *Store) Len(convo string) int {
	c := s.conversation(convo, false)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Conversations lists every conversation key with at least one observed event.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.convos))
	for k := range s.convos {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) conversation(key string, create bool) *conversation {
	s.mu.RLock()
	c, ok := s.convos[key]
	s.mu.RUnlock()
	if ok || !create {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convos[key]; ok {
		return c
	}
	c = &conversation{members: make(map[string]*member)}
	s.convos[key] = c
	return c
}

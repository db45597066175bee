package core

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// mustEvent waits for the next event of the given kind on conn, skipping others.
func mustEvent(t *testing.T, conn *Conn, kind EventKind) Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := conn.Next(); ok {
			if ev.Kind == kind {
				return ev
			}
			continue
		}
		select {
		case <-conn.Ready():
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return Event{}
}

// drain pops every queued event.
func drain(conn *Conn) []Event {
	var out []Event
	for {
		ev, ok := conn.Next()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// memFriends is a FriendGate backed by a set of accepted pairs.
type memFriends struct {
	mu    sync.Mutex
	pairs map[store.Pair]bool
	err   error
}

func newMemFriends(pairs ...[2]int64) *memFriends {
	f := &memFriends{pairs: make(map[store.Pair]bool)}
	for _, p := range pairs {
		f.pairs[store.NewPair(p[0], p[1])] = true
	}
	return f
}

func (f *memFriends) IsFriend(_ context.Context, a, b int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.pairs[store.NewPair(a, b)], nil
}

func (f *memFriends) FriendIDs(_ context.Context, id int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var ids []int64
	for p := range f.pairs {
		if p.Has(id) {
			ids = append(ids, p.Other(id))
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// memMessages is an in-memory MessageStore.
type memMessages struct {
	mu       sync.Mutex
	msgs     []*store.Message
	failNext bool
	fetches  int
	block    chan struct{}
}

var errStoreDown = errors.New("store unavailable")

func (s *memMessages) AppendMessage(ctx context.Context, msg *store.Message) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errStoreDown
	}
	cp := *msg
	s.msgs = append(s.msgs, &cp)
	return nil
}

func (s *memMessages) FetchHistory(_ context.Context, pair store.Pair, after *store.HistoryCursor, limit int) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	var out []*store.Message
	for _, m := range s.msgs {
		if store.NewPair(m.SenderID, m.RecipientID) != pair {
			continue
		}
		if after != nil && compareRecord(m, after) <= 0 {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *store.Message) int {
		return compareRecord(a, store.CursorOf(b))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func compareRecord(m *store.Message, c *store.HistoryCursor) int {
	if d := m.CreatedAt.Compare(c.CreatedAt); d != 0 {
		return d
	}
	return strings.Compare(m.ID, c.ID)
}

func (s *memMessages) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// memUsers records TouchLastActive calls; the remaining UserStore methods are unused here.
type memUsers struct {
	store.UserStore

	mu      sync.Mutex
	touched map[int64]time.Time
}

func (u *memUsers) TouchLastActive(_ context.Context, id int64, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.touched == nil {
		u.touched = make(map[int64]time.Time)
	}
	u.touched[id] = at
	return nil
}

// online registers a fresh connection for ident and returns it.
func online(t *testing.T, reg *Registry, id int64, connID string) *Conn {
	t.Helper()
	conn := NewConn(connID, 0, 0)
	if err := conn.Bind(Identity{ID: id}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	reg.Register(id, conn)
	return conn
}

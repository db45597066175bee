package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-dm/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSearchUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Seed users
	users := []string{"alice", "alex", "alan", "bob", "charlie"}
	for _, u := range users {
		if _, err := s.CreateUser(ctx, u, "hash"); err != nil {
			t.Fatalf("failed to create user %s: %v", u, err)
		}
	}

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{name: "search 'al'", query: "al", expected: []string{"alan", "alex", "alice"}},
		{name: "search 'li'", query: "li", expected: []string{"alice", "charlie"}},
		{name: "search non-existent", query: "z", expected: []string{}},
		// SQLite LIKE is case-insensitive for ASCII characters by default.
		{name: "search case insensitive", query: "Bob", expected: []string{"bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.SearchUsers(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchUsers failed: %v", err)
			}
			if len(results) != len(tt.expected) {
				t.Fatalf("expected %d results, got %d", len(tt.expected), len(results))
			}
			for i, u := range results {
				if u.Username != tt.expected[i] {
					t.Errorf("expected %s at index %d, got %s", tt.expected[i], i, u.Username)
				}
			}
		})
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "alice", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice", "hash"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.GetUserByID(ctx, 42); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchLastActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.LastActiveAt != nil {
		t.Fatalf("expected no last active time, got %v", u.LastActiveAt)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.TouchLastActive(ctx, u.ID, at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.LastActiveAt == nil || !got.LastActiveAt.Equal(at) {
		t.Fatalf("unexpected last active: %v", got.LastActiveAt)
	}
}

func TestFetchHistoryPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"m1", "m2", "m3", "m4"}
	for i, id := range ids {
		from, to := int64(1), int64(2)
		if i%2 == 1 {
			from, to = to, from
		}
		msg := &store.Message{ID: id, SenderID: from, RecipientID: to, Body: id, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	// A message in another conversation must not leak.
	if err := s.AppendMessage(ctx, &store.Message{ID: "other", SenderID: 1, RecipientID: 3, Body: "x", CreatedAt: base}); err != nil {
		t.Fatalf("append other: %v", err)
	}

	all, err := s.FetchHistory(ctx, store.NewPair(2, 1), nil, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(all) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(all))
	}
	for i, m := range all {
		if m.ID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], m.ID)
		}
		if !m.CreatedAt.Equal(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("position %d: unexpected created_at %v", i, m.CreatedAt)
		}
	}

	first, err := s.FetchHistory(ctx, store.NewPair(1, 2), nil, 2)
	if err != nil {
		t.Fatalf("fetch first page: %v", err)
	}
	if len(first) != 2 || first[0].ID != "m1" || first[1].ID != "m2" {
		t.Fatalf("expected the two oldest messages in order, got %+v", first)
	}
	next, err := s.FetchHistory(ctx, store.NewPair(1, 2), store.CursorOf(first[1]), 2)
	if err != nil {
		t.Fatalf("fetch next page: %v", err)
	}
	if len(next) != 2 || next[0].ID != "m3" || next[1].ID != "m4" {
		t.Fatalf("expected the page after m2, got %+v", next)
	}
	rest, err := s.FetchHistory(ctx, store.NewPair(1, 2), store.CursorOf(next[1]), 2)
	if err != nil || len(rest) != 0 {
		t.Fatalf("expected an empty page after the newest message, got %+v, %v", rest, err)
	}

	if err := s.AppendMessage(ctx, &store.Message{ID: "m1", SenderID: 1, RecipientID: 2, Body: "dup", CreatedAt: base}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on id reuse, got %v", err)
	}
}

func TestFriendRequestPendingUniquePerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateFriendRequest(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != store.FriendStatusPending || req.Version != 1 {
		t.Fatalf("unexpected new request: %+v", req)
	}

	// Either direction collides while a pending record exists.
	if _, err := s.CreateFriendRequest(ctx, 2, 1); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	req.Status = store.FriendStatusRejected
	if err := s.SaveTransition(ctx, req, 1); err != nil {
		t.Fatalf("reject: %v", err)
	}

	again, err := s.CreateFriendRequest(ctx, 2, 1)
	if err != nil {
		t.Fatalf("re-request after terminal state: %v", err)
	}

	latest, err := s.LoadRelationship(ctx, store.NewPair(1, 2))
	if err != nil {
		t.Fatalf("load relationship: %v", err)
	}
	if latest.ID != again.ID || latest.RequesterID != 2 {
		t.Fatalf("expected newest record, got %+v", latest)
	}
}

func TestSaveTransitionOptimisticVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.CreateFriendRequest(ctx, 1, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	accept := *req
	accept.Status = store.FriendStatusAccepted
	if err := s.SaveTransition(ctx, &accept, req.Version); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accept.Version != 2 {
		t.Fatalf("expected version 2, got %d", accept.Version)
	}

	reject := *req
	reject.Status = store.FriendStatusRejected
	if err := s.SaveTransition(ctx, &reject, req.Version); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	stored, err := s.GetFriendRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != store.FriendStatusAccepted {
		t.Fatalf("expected accepted, got %s", stored.Status)
	}
}

func TestListFriendRequestsByDirection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateFriendRequest(ctx, 1, 2); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateFriendRequest(ctx, 3, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	pending := store.FriendStatusPending
	incoming, err := s.ListFriendRequests(ctx, 1, store.DirectionIncoming, &pending)
	if err != nil {
		t.Fatalf("list incoming: %v", err)
	}
	if len(incoming) != 1 || incoming[0].RequesterID != 3 {
		t.Fatalf("unexpected incoming: %+v", incoming)
	}

	outgoing, err := s.ListFriendRequests(ctx, 1, store.DirectionOutgoing, nil)
	if err != nil {
		t.Fatalf("list outgoing: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].TargetID != 2 {
		t.Fatalf("unexpected outgoing: %+v", outgoing)
	}

	both, err := s.ListFriendRequests(ctx, 1, store.DirectionAny, nil)
	if err != nil {
		t.Fatalf("list any: %v", err)
	}
	if len(both) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(both))
	}
}

func TestFetchHistoryCursorBreaksTiesByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"c", "a", "b"} {
		if err := s.AppendMessage(ctx, &store.Message{ID: id, SenderID: 1, RecipientID: 2, Body: id, CreatedAt: at}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	page, err := s.FetchHistory(ctx, store.NewPair(1, 2), &store.HistoryCursor{CreatedAt: at, ID: "a"}, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 2 || page[0].ID != "b" || page[1].ID != "c" {
		t.Fatalf("expected b, c after cursor a, got %+v", page)
	}
}

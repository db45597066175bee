package core

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// LiveBuffer keeps the chat messages a connection has seen over the push channel,
// grouped by conversation, so they can be merged with history fetched later.
type LiveBuffer struct {
	mu    sync.Mutex
	limit int
	byKey map[store.Pair][]Message
}

// NewLiveBuffer creates a buffer holding at most limit messages per conversation.
func NewLiveBuffer(limit int) *LiveBuffer {
	if limit <= 0 {
		limit = 256
	}
	return &LiveBuffer{
		limit: limit,
		byKey: make(map[store.Pair][]Message),
	}
}

// Add records a message. A message already buffered is kept at its most advanced state.
func (b *LiveBuffer) Add(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pair := m.Pair()
	msgs := b.byKey[pair]
	for i := range msgs {
		if msgs[i].ID == m.ID {
			msgs[i] = msgs[i].Advance(m.State)
			return
		}
	}
	msgs = append(msgs, m)
	if len(msgs) > b.limit {
		msgs = slices.Delete(msgs, 0, len(msgs)-b.limit)
	}
	b.byKey[pair] = msgs
}

// Snapshot returns a copy of the buffered messages for the pair.
func (b *LiveBuffer) Snapshot(pair store.Pair) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.byKey[pair])
}

// MergeHistory unions persisted and live messages by id and orders the result by
// creation time, ties broken by id. When both sides hold a message the more
// advanced delivery state wins.
func MergeHistory(persisted, live []Message) []Message {
	merged := make([]Message, 0, len(persisted)+len(live))
	index := make(map[string]int, len(persisted)+len(live))

	add := func(m Message) {
		if i, ok := index[m.ID]; ok {
			merged[i] = merged[i].Advance(m.State)
			return
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range persisted {
		add(m)
	}
	for _, m := range live {
		add(m)
	}

	slices.SortFunc(merged, compareMessages)
	return merged
}

// Reconciler builds the view of a conversation for one connection: durable history
// plus whatever arrived live before the history fetch completed.
type Reconciler struct {
	history store.MessageStore
	live    *LiveBuffer
	limit   int
}

// NewReconciler creates a reconciler that reads history in pages of limit messages.
// live may be nil when there is no push channel.
func NewReconciler(history store.MessageStore, live *LiveBuffer, limit int) *Reconciler {
	if limit <= 0 {
		limit = 100
	}
	return &Reconciler{history: history, live: live, limit: limit}
}

// Open returns every message of the conversation in (CreatedAt, ID) order.
// History is paged lazily from the oldest message on. Each live message is yielded
// with the page whose range covers it, so the output stays contiguous; those newer
// than all of history come last. Every range over the sequence fetches again and
// re-reads the live buffer, so it can be restarted and never mutates shared state.
func (r *Reconciler) Open(ctx context.Context, pair store.Pair) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		var live []Message
		if r.live != nil {
			live = MergeHistory(nil, r.live.Snapshot(pair))
		}

		var after *store.HistoryCursor
		for {
			records, err := r.history.FetchHistory(ctx, pair, after, r.limit)
			if err != nil {
				yield(Message{}, fmt.Errorf("fetch history %s: %w", pair.Key(), err))
				return
			}

			page := make([]Message, 0, len(records))
			for _, rec := range records {
				page = append(page, messageFromRecord(rec))
			}

			exhausted := len(records) < r.limit
			take := len(live)
			if !exhausted {
				last := page[len(page)-1]
				if i := slices.IndexFunc(live, func(m Message) bool { return compareMessages(m, last) > 0 }); i >= 0 {
					take = i
				}
			}

			for _, m := range MergeHistory(page, live[:take]) {
				if !yield(m, nil) {
					return
				}
			}
			live = live[take:]

			if exhausted {
				return
			}
			after = store.CursorOf(records[len(records)-1])
		}
	}
}

// Load collects Open into a slice.
func (r *Reconciler) Load(ctx context.Context, pair store.Pair) ([]Message, error) {
	var out []Message
	for m, err := range r.Open(ctx, pair) {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRouter(friends *memFriends, msgs *memMessages, users *memUsers) (*Router, *Registry) {
	reg := NewRegistry()
	r := NewRouter(reg, friends, msgs, users, RouterConfig{MaxContentLength: 10, PersistTimeout: time.Second}, nil)
	return r, reg
}

func TestRouteMessageFansOutToAllRecipientConnections(t *testing.T) {
	msgs := &memMessages{}
	r, reg := newTestRouter(newMemFriends([2]int64{1, 2}), msgs, nil)

	phone := online(t, reg, 2, "phone")
	laptop := online(t, reg, 2, "laptop")
	sender := online(t, reg, 1, "sender")

	msg, err := r.RouteMessage(context.Background(), 1, 2, "  hi  ")
	require.NoError(t, err)
	require.Equal(t, "hi", msg.Content)
	require.Equal(t, StateQueued, msg.State)
	require.NotEmpty(t, msg.ID)

	for _, c := range []*Conn{phone, laptop} {
		ev := mustEvent(t, c, EventChatMessage)
		require.Equal(t, msg.ID, ev.Message.ID)
		require.Equal(t, StateDelivered, ev.Message.State)
	}
	require.Empty(t, drain(sender), "the sender's own connections are not pushed the message")
	require.Equal(t, 1, msgs.count())
}

func TestRouteMessageRejectsNonFriends(t *testing.T) {
	msgs := &memMessages{}
	r, reg := newTestRouter(newMemFriends(), msgs, nil)
	bob := online(t, reg, 2, "bob")

	_, err := r.RouteMessage(context.Background(), 1, 2, "hi")
	require.ErrorIs(t, err, ErrNotFriends)
	require.Equal(t, ErrCodeNotFriends, ErrorFor(err).Code)
	require.Zero(t, bob.Pending())
	require.Zero(t, msgs.count())

	_, err = r.RouteMessage(context.Background(), 1, 1, "hi")
	require.ErrorIs(t, err, ErrNotFriends, "a user cannot message themselves")
}

func TestRouteMessageValidatesContent(t *testing.T) {
	r, _ := newTestRouter(newMemFriends([2]int64{1, 2}), &memMessages{}, nil)

	_, err := r.RouteMessage(context.Background(), 1, 2, "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = r.RouteMessage(context.Background(), 1, 2, "this is far too long")
	require.ErrorIs(t, err, ErrMessageTooLong)
}

func TestRouteMessageFriendLookupFailure(t *testing.T) {
	friends := newMemFriends([2]int64{1, 2})
	friends.err = errStoreDown
	r, _ := newTestRouter(friends, &memMessages{}, nil)

	_, err := r.RouteMessage(context.Background(), 1, 2, "hi")
	require.ErrorIs(t, err, errStoreDown)
	require.False(t, errors.Is(err, ErrNotFriends))
}

func TestRouteMessageToOfflineRecipientIsStored(t *testing.T) {
	msgs := &memMessages{}
	r, _ := newTestRouter(newMemFriends([2]int64{1, 2}), msgs, nil)

	msg, err := r.RouteMessage(context.Background(), 1, 2, "later")
	require.NoError(t, err)
	require.Equal(t, 1, msgs.count())

	hist, err := NewReconciler(msgs, nil, 0).Load(context.Background(), msg.Pair())
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, StateAcknowledged, hist[0].State)
}

func TestRouteMessagePersistenceFailureStillDelivers(t *testing.T) {
	msgs := &memMessages{failNext: true}
	r, reg := newTestRouter(newMemFriends([2]int64{1, 2}), msgs, nil)
	bob := online(t, reg, 2, "bob")

	msg, err := r.RouteMessage(context.Background(), 1, 2, "hi")
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.ErrorIs(t, err, errStoreDown)
	require.NotEmpty(t, msg.ID, "the message is returned even when it was not stored")
	require.Equal(t, ErrCodePersistenceFailed, ErrorFor(err).Code)

	ev := mustEvent(t, bob, EventChatMessage)
	require.Equal(t, msg.ID, ev.Message.ID)
}

func TestRouteMessageSurvivesCallerCancellation(t *testing.T) {
	msgs := &memMessages{block: make(chan struct{})}
	r, _ := newTestRouter(newMemFriends([2]int64{1, 2}), msgs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.RouteMessage(ctx, 1, 2, "hi")
		done <- err
	}()

	cancel()
	close(msgs.block)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RouteMessage did not return")
	}
	require.Equal(t, 1, msgs.count())
}

func TestRouteMessageBlocksOnAppend(t *testing.T) {
	msgs := &memMessages{block: make(chan struct{})}
	r, reg := newTestRouter(newMemFriends([2]int64{1, 2}), msgs, nil)
	bob := online(t, reg, 2, "bob")

	done := make(chan error, 1)
	go func() {
		_, err := r.RouteMessage(context.Background(), 1, 2, "hi")
		done <- err
	}()

	// The push does not wait for the store, the return does.
	mustEvent(t, bob, EventChatMessage)
	select {
	case err := <-done:
		t.Fatalf("RouteMessage returned before the append finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(msgs.block)
	require.NoError(t, <-done)
}

func TestRouteMessageAppendTimeout(t *testing.T) {
	msgs := &memMessages{block: make(chan struct{})}
	r := NewRouter(NewRegistry(), newMemFriends([2]int64{1, 2}), msgs, nil,
		RouterConfig{PersistTimeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	msg, err := r.RouteMessage(context.Background(), 1, 2, "hi")
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, msg.ID)
	require.Less(t, time.Since(start), time.Second)
}

func TestRouteTyping(t *testing.T) {
	r, reg := newTestRouter(newMemFriends([2]int64{1, 2}), &memMessages{}, nil)

	require.NoError(t, r.RouteTyping(context.Background(), 1, 2), "offline recipients drop typing silently")

	bob := online(t, reg, 2, "bob")
	require.NoError(t, r.RouteTyping(context.Background(), 1, 2))
	require.NoError(t, r.RouteTyping(context.Background(), 1, 2))
	require.Equal(t, 1, bob.Pending())

	ev := mustEvent(t, bob, EventTyping)
	require.Equal(t, int64(1), ev.Typing.SenderID)

	require.ErrorIs(t, r.RouteTyping(context.Background(), 1, 3), ErrNotFriends)
}

func TestAnnouncePresence(t *testing.T) {
	users := &memUsers{}
	r, reg := newTestRouter(newMemFriends([2]int64{1, 2}, [2]int64{1, 3}), &memMessages{}, users)
	bob := online(t, reg, 2, "bob")
	stranger := online(t, reg, 4, "stranger")
	alice := Identity{ID: 1, Name: "alice"}

	phone := online(t, reg, 1, "alice-phone")
	r.AnnouncePresence(context.Background(), alice)
	ev := mustEvent(t, bob, EventPresence)
	require.True(t, ev.Identity.Online)
	require.Equal(t, "alice", ev.Identity.Name)

	r.AnnouncePresence(context.Background(), alice)
	require.Zero(t, bob.Pending(), "an unchanged state is not announced twice")

	require.True(t, reg.Unregister(1, phone))
	r.AnnouncePresence(context.Background(), alice)
	ev = mustEvent(t, bob, EventPresence)
	require.False(t, ev.Identity.Online)

	require.Zero(t, stranger.Pending())
	require.Contains(t, users.touched, int64(1))
}

func TestAnnouncePresenceFollowsRegistryOnReconnect(t *testing.T) {
	users := &memUsers{}
	r, reg := newTestRouter(newMemFriends([2]int64{1, 2}), &memMessages{}, users)
	bob := online(t, reg, 2, "bob")
	alice := Identity{ID: 1, Name: "alice"}

	oldTab := online(t, reg, 1, "old-tab")
	r.AnnouncePresence(context.Background(), alice)
	require.True(t, mustEvent(t, bob, EventPresence).Identity.Online)

	// A page reload: the old connection leaves and the new one joins before either
	// announcement runs.
	wentOffline := reg.Unregister(1, oldTab)
	newTab := NewConn("new-tab", 0, 0)
	require.NoError(t, newTab.Bind(alice))
	cameOnline := reg.Register(1, newTab)
	require.True(t, wentOffline)
	require.True(t, cameOnline)

	r.AnnouncePresence(context.Background(), alice) // new tab
	r.AnnouncePresence(context.Background(), alice) // old tab, late
	require.Zero(t, bob.Pending(), "friends keep seeing alice online")
	require.NotContains(t, users.touched, int64(1))
	require.True(t, reg.IsOnline(1))

	require.True(t, reg.Unregister(1, newTab))
	r.AnnouncePresence(context.Background(), alice)
	require.False(t, mustEvent(t, bob, EventPresence).Identity.Online)
	require.Contains(t, users.touched, int64(1))
}

func TestRouterConcurrentSendersPreserveOrderPerSender(t *testing.T) {
	msgs := &memMessages{}
	r, reg := newTestRouter(newMemFriends([2]int64{1, 3}, [2]int64{2, 3}), msgs, nil)
	carol := NewConn("carol", 256, 0)
	reg.Register(3, carol)

	const n = 50
	errs := make(chan error, 2)
	for _, sender := range []int64{1, 2} {
		go func(id int64) {
			for range n {
				if _, err := r.RouteMessage(context.Background(), id, 3, "x"); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}(sender)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	seen := map[int64][]Message{}
	for _, ev := range drain(carol) {
		seen[ev.Message.SenderID] = append(seen[ev.Message.SenderID], *ev.Message)
	}
	for _, sender := range []int64{1, 2} {
		got := seen[sender]
		require.Len(t, got, n)
		for i := 1; i < len(got); i++ {
			require.LessOrEqual(t, compareMessages(got[i-1], got[i]), 0)
		}
	}
	require.Equal(t, 2*n, msgs.count())
}

package core

import (
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// presence is the immutable per-identity entry of the Registry.
// Updates replace it wholesale so readers never see a half-built set.
type presence struct {
	conns      []*Conn
	lastActive time.Time
}

// Registry maps identities to their open connections.
// Every update is an atomic compute on that identity's key only, so unrelated users
// never contend on a shared lock.
type Registry struct {
	entries *xsync.MapOf[int64, presence]
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: xsync.NewMapOf[int64, presence](),
		now:     time.Now,
	}
}

// Register adds conn to the identity's connection set. Registering the same
// connection twice is a no-op. Returns true if the identity just came online.
func (r *Registry) Register(userID int64, conn *Conn) bool {
	if conn == nil || conn.Closed() {
		return false
	}

	cameOnline := false
	r.entries.Compute(userID, func(old presence, _ bool) (presence, bool) {
		cameOnline = false
		if slices.Contains(old.conns, conn) {
			return old, false
		}
		conns := make([]*Conn, 0, len(old.conns)+1)
		conns = append(conns, old.conns...)
		conns = append(conns, conn)
		cameOnline = len(old.conns) == 0
		return presence{conns: conns, lastActive: r.now()}, false
	})
	return cameOnline
}

// Unregister removes conn from the identity's connection set. Unregistering an
// unknown connection is a no-op. Returns true if the identity just went offline.
func (r *Registry) Unregister(userID int64, conn *Conn) bool {
	wentOffline := false
	r.entries.Compute(userID, func(old presence, loaded bool) (presence, bool) {
		wentOffline = false
		if !loaded {
			return old, true
		}
		idx := slices.Index(old.conns, conn)
		if idx < 0 {
			return old, false
		}
		conns := slices.Delete(slices.Clone(old.conns), idx, idx+1)
		wentOffline = len(conns) == 0
		if wentOffline {
			conns = nil
		}
		return presence{conns: conns, lastActive: r.now()}, false
	})
	return wentOffline
}

// ConnectionsFor returns a snapshot of the identity's open connections.
func (r *Registry) ConnectionsFor(userID int64) []*Conn {
	p, ok := r.entries.Load(userID)
	if !ok || len(p.conns) == 0 {
		return nil
	}
	return slices.Clone(p.conns)
}

// IsOnline reports whether the identity has at least one open connection.
func (r *Registry) IsOnline(userID int64) bool {
	p, ok := r.entries.Load(userID)
	return ok && len(p.conns) > 0
}

// LastActive returns when the identity last connected or disconnected,
// as observed by this process.
func (r *Registry) LastActive(userID int64) (time.Time, bool) {
	p, ok := r.entries.Load(userID)
	if !ok {
		return time.Time{}, false
	}
	if len(p.conns) > 0 {
		return r.now(), true
	}
	return p.lastActive, true
}

// OnlineCount returns the number of identities with open connections.
func (r *Registry) OnlineCount() int {
	n := 0
	r.entries.Range(func(_ int64, p presence) bool {
		if len(p.conns) > 0 {
			n++
		}
		return true
	})
	return n
}

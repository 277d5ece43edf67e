package core

import (
	"slices"
	"sync"
	"time"
)

// PresenceTracker derives online state from live connection counts. A user is
// online iff their count is greater than zero; there are no intermediate
// states. The tracker only reports a change on the offline->online and
// online->offline edges, so multi-device flapping does not re-broadcast.
type PresenceTracker struct {
	mu       sync.RWMutex
	counts   map[string]int
	lastSeen map[string]time.Time
	// watchers maps a watched user to the observer connections subscribed
	// to their presence; byObserver is the reverse index used to purge a
	// disconnected observer. globals are observers of every user's presence
	// (connections that issued a bulk online-users query).
	watchers   map[string]map[string]struct{}
	byObserver map[string]map[string]struct{}
	globals    map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		counts:     make(map[string]int),
		lastSeen:   make(map[string]time.Time),
		watchers:   make(map[string]map[string]struct{}),
		byObserver: make(map[string]map[string]struct{}),
		globals:    make(map[string]struct{}),
	}
}

// MarkConnected records one more live connection for the user and reports
// whether the user transitioned offline -> online.
func (p *PresenceTracker) MarkConnected(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1
}

// MarkDisconnected records one less live connection for the user and reports
// whether the user transitioned online -> offline. The offline transition
// records the last-seen timestamp.
func (p *PresenceTracker) MarkDisconnected(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, userID)
		p.lastSeen[userID] = time.Now()
		return true
	}
	p.counts[userID] = n - 1
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[userID] > 0
}

// OnlineUsers returns the sorted set of online user IDs.
func (p *PresenceTracker) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]string, 0, len(p.counts))
	for u := range p.counts {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// LastSeen returns when the user last went offline. The zero time means the
// tracker has never seen the user disconnect.
func (p *PresenceTracker) LastSeen(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts, ok := p.lastSeen[userID]
	return ts, ok
}

// Subscribe registers an observer connection for a user's presence changes
// and returns the user's current state.
func (p *PresenceTracker) Subscribe(observerConnID, userID string) (online bool, lastSeen time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchers[userID] == nil {
		p.watchers[userID] = make(map[string]struct{})
	}
	p.watchers[userID][observerConnID] = struct{}{}
	if p.byObserver[observerConnID] == nil {
		p.byObserver[observerConnID] = make(map[string]struct{})
	}
	p.byObserver[observerConnID][userID] = struct{}{}
	return p.counts[userID] > 0, p.lastSeen[userID]
}

// SubscribeGlobal registers an observer connection for every user's presence
// changes.
func (p *PresenceTracker) SubscribeGlobal(observerConnID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals[observerConnID] = struct{}{}
}

// Unsubscribe removes every subscription held by the observer connection.
// Called on disconnect so no watcher set references a destroyed connection.
func (p *PresenceTracker) Unsubscribe(observerConnID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID := range p.byObserver[observerConnID] {
		delete(p.watchers[userID], observerConnID)
		if len(p.watchers[userID]) == 0 {
			delete(p.watchers, userID)
		}
	}
	delete(p.byObserver, observerConnID)
	delete(p.globals, observerConnID)
}

// WatchersOf returns the observer connections that should be notified of the
// user's presence changes: per-user subscribers plus global subscribers.
func (p *PresenceTracker) WatchersOf(userID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := make(map[string]struct{}, len(p.watchers[userID])+len(p.globals))
	for connID := range p.watchers[userID] {
		set[connID] = struct{}{}
	}
	for connID := range p.globals {
		set[connID] = struct{}{}
	}
	observers := make([]string, 0, len(set))
	for connID := range set {
		observers = append(observers, connID)
	}
	slices.Sort(observers)
	return observers
}

package store

import "sync"

// Subscription is a live stream of full-result-set snapshots of one
// collection: one snapshot immediately on subscribe, then one after
// every mutation. Consumers that lag are coalesced — a newer snapshot
// replaces the undelivered one — so the channel always carries the
// current ordered list, never a backlog.
type Subscription struct {
	C <-chan []Document

	store      *Store
	collection string
	ch         chan []Document

	mu     sync.Mutex
	closed bool
	// ver is the version of the last delivered snapshot. Writers list
	// the collection outside the store's write lock, so two notifiers
	// can race; stale snapshots are dropped instead of overwriting a
	// newer one.
	ver uint64
}

// Subscribe registers a snapshot subscription on the collection.
func (s *Store) Subscribe(collection string) *Subscription {
	ch := make(chan []Document, 1)
	sub := &Subscription{
		C:          ch,
		store:      s,
		collection: collection,
		ch:         ch,
	}

	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		sub.close()
		return sub
	}
	set, ok := s.watchers[collection]
	if !ok {
		set = make(map[*Subscription]struct{})
		s.watchers[collection] = set
	}
	set[sub] = struct{}{}
	s.watchMu.Unlock()

	// 購読直後に初期スナップショットを届ける
	s.mu.Lock()
	ver := s.seq
	s.mu.Unlock()
	if docs, err := s.List(collection); err == nil {
		sub.push(docs, ver)
	}
	return sub
}

// Cancel tears the subscription down and closes C. Idempotent: the view
// teardown path must cancel exactly once, and a second call is harmless.
func (sub *Subscription) Cancel() {
	s := sub.store
	s.watchMu.Lock()
	if set, ok := s.watchers[sub.collection]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.watchers, sub.collection)
		}
	}
	s.watchMu.Unlock()

	sub.close()
}

// close marks the subscription dead and closes C. Safe to call more
// than once and concurrently with push.
func (sub *Subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

// push delivers a snapshot, replacing any undelivered one. Snapshots
// older than the last delivered version are dropped.
func (sub *Subscription) push(docs []Document, ver uint64) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || ver < sub.ver {
		return
	}
	sub.ver = ver
	select {
	case sub.ch <- docs:
	default:
		// 古いスナップショットを破棄して最新に差し替える
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- docs
	}
}

// notify pushes a fresh snapshot of the collection to every subscriber.
// ver is the mutation counter captured under the write lock; the List
// below runs outside that lock, so the version lets subscribers order
// racing snapshots from concurrent writers.
func (s *Store) notify(collection string, ver uint64) {
	s.watchMu.Lock()
	if s.closed || len(s.watchers[collection]) == 0 {
		s.watchMu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(s.watchers[collection]))
	for sub := range s.watchers[collection] {
		subs = append(subs, sub)
	}
	s.watchMu.Unlock()

	docs, err := s.List(collection)
	if err != nil {
		return
	}
	for _, sub := range subs {
		sub.push(docs, ver)
	}
}

package chat

import (
	"fmt"
	"log"
	"sync"
	"time"

	"coursehub/internal/identity"
	"coursehub/internal/model"
	"coursehub/internal/store"
)

// DefaultTypingTTL is the debounce window: a typing marker expires this
// long after the last keystroke, and readers treat older markers as
// stale even before the owner's delete arrives.
const DefaultTypingTTL = 1500 * time.Millisecond

// presencePayload carries the marker fields the client controls; the
// freshness timestamp is the store-assigned one on the document.
type presencePayload struct {
	DisplayName string `json:"displayName"`
}

// Typist publishes the local user's transient typing marker with
// debounced refresh and auto-expiry.
//
// State machine: Keystroke moves Idle→Typing (or refreshes Typing),
// always cancelling the previous timer before writing, so at most one
// expiry is pending and it is timed from the last keystroke. The timer
// firing, Blur, Sent and Close all delete the marker and return to Idle.
type Typist struct {
	store *store.Store
	user  identity.User
	ttl   time.Duration

	mu    sync.Mutex
	timer *time.Timer
	// gen is bumped by every keystroke and clear. A Timer that has
	// already fired cannot be stopped, so its callback re-checks the
	// generation under mu and backs off when it was superseded.
	gen uint64
}

// NewTypist creates the presence controller for one user. A ttl of zero
// selects DefaultTypingTTL.
func NewTypist(st *store.Store, u identity.User, ttl time.Duration) *Typist {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Typist{store: st, user: u, ttl: ttl}
}

// Keystroke upserts the marker with a fresh server timestamp and re-arms
// the expiry timer. Without an authenticated user this is a no-op.
func (t *Typist) Keystroke() error {
	if t.user.ID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// 新しい入力意図が前のタイマーを必ず先に無効化する（single-slot）。
	// 既に発火済みのタイマーはStopでは止まらないため、世代を進めて
	// 残っているコールバックを空振りさせる
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	gen := t.gen

	name := t.user.DisplayName
	if name == "" {
		name = model.AnonymousName
	}
	if _, err := t.store.Set(TypingCollection, t.user.ID, presencePayload{DisplayName: name}); err != nil {
		return fmt.Errorf("failed to publish typing marker: %w", err)
	}

	t.timer = time.AfterFunc(t.ttl, func() { t.expire(gen) })
	return nil
}

// expire runs when the debounce window elapses with no further
// keystrokes. The delete happens under mu so a superseded callback can
// never remove a marker written after it was armed, and a callback
// outliving Close never touches the store.
func (t *Typist) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return
	}
	t.timer = nil

	if err := t.store.Delete(TypingCollection, t.user.ID); err != nil {
		log.Printf("[chat] ⚠️  Failed to expire typing marker for %s: %v", t.user.ID, err)
	}
}

func (t *Typist) clear() error {
	if t.user.ID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++

	if err := t.store.Delete(TypingCollection, t.user.ID); err != nil {
		return fmt.Errorf("failed to clear typing marker: %w", err)
	}
	return nil
}

// Blur deletes the marker immediately when the input loses focus.
func (t *Typist) Blur() error { return t.clear() }

// Sent deletes the marker after a message was sent.
func (t *Typist) Sent() error { return t.clear() }

// Close deletes the marker and drops any pending timer on view teardown.
func (t *Typist) Close() error { return t.clear() }

// ActiveTypists maps a typingStatus snapshot to the display names to
// render, excluding the local user and any marker older than the
// staleness window (a crashed client never deletes its own marker, so
// the read side must not trust markers forever).
func ActiveTypists(docs []store.Document, selfID string, window time.Duration, now time.Time) []string {
	if window <= 0 {
		window = DefaultTypingTTL
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Key == selfID {
			continue
		}
		if now.Sub(d.Timestamp) > window {
			continue
		}
		p, err := model.DecodePresence(d.Key, d.Data)
		if err != nil {
			log.Printf("[chat] ⚠️  Skipping invalid typing marker: %v", err)
			continue
		}
		names = append(names, p.DisplayName)
	}
	return names
}

// Indicator renders the composite typing line, e.g. "Bob is typing..."
// or "Bob, Alice are typing...". Empty input yields an empty string.
func Indicator(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		joined := names[0]
		for _, n := range names[1:] {
			joined += ", " + n
		}
		return joined + " are typing..."
	}
}

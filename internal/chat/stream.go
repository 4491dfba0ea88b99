package chat

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"coursehub/internal/identity"
	"coursehub/internal/model"
	"coursehub/internal/store"
)

// コレクション名（ドキュメントストア上のチャット関連コレクション）
const (
	MessagesCollection = "messages"
	TypingCollection   = "typingStatus"
)

// messagePayload is what a sender writes; id and timestamp are assigned
// by the store, never by the client.
type messagePayload struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
	Avatar string `json:"avatar"`
}

// Stream maintains a live, ordered view of the chat messages. Every
// snapshot from the store replaces the local view wholesale; there is
// no incremental patching.
type Stream struct {
	store *store.Store
	sub   *store.Subscription

	mu   sync.RWMutex
	msgs []model.Message

	updates   chan []model.Message
	closeOnce sync.Once
}

// OpenStream subscribes to the message collection and starts tracking
// snapshots. The caller must Close the stream when the view goes away.
func OpenStream(st *store.Store) *Stream {
	s := &Stream{
		store:   st,
		updates: make(chan []model.Message, 1),
	}
	s.sub = st.Subscribe(MessagesCollection)
	go s.run()
	return s
}

func (s *Stream) run() {
	for docs := range s.sub.C {
		msgs := make([]model.Message, 0, len(docs))
		for _, d := range docs {
			m, err := model.DecodeMessage(d.Key, d.Data)
			if err != nil {
				log.Printf("[chat] ⚠️  Skipping invalid message: %v", err)
				continue
			}
			m.Timestamp = d.Timestamp
			msgs = append(msgs, m)
		}

		s.mu.Lock()
		s.msgs = msgs
		s.mu.Unlock()

		// 最新スナップショットのみ保持（受信が遅れても古い状態は配らない）
		select {
		case s.updates <- msgs:
		default:
			select {
			case <-s.updates:
			default:
			}
			s.updates <- msgs
		}
	}
	close(s.updates)
}

// Messages returns the current ordered message list.
func (s *Stream) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Updates delivers each new full message list to the view. The channel
// is closed after Close.
func (s *Stream) Updates() <-chan []model.Message {
	return s.updates
}

// Close cancels the store subscription. Exactly one cancellation is
// issued no matter how many times Close is called.
func (s *Stream) Close() {
	s.closeOnce.Do(s.sub.Cancel)
}

// Send appends a message through this stream's store. See Send.
func (s *Stream) Send(text string, u identity.User) (model.Message, error) {
	return Send(s.store, text, u)
}

// Send appends a chat message as the given user and clears the user's
// typing marker — sending implies "no longer typing".
//
// Preconditions: trimmed text must be non-empty and the user identity
// must be present. Otherwise the call is a silent no-op (zero Message,
// nil error), matching the disabled send button in the view. A failed
// store write is returned for the caller to surface; there is no retry.
func Send(st *store.Store, text string, u identity.User) (model.Message, error) {
	if strings.TrimSpace(text) == "" || u.ID == "" {
		return model.Message{}, nil
	}

	sender := u.DisplayName
	if sender == "" {
		sender = model.AnonymousName
	}
	avatar := u.PhotoURL
	if avatar == "" {
		avatar = model.DefaultAvatarURL
	}

	doc, err := st.Add(MessagesCollection, messagePayload{
		Text:   text,
		Sender: sender,
		Avatar: avatar,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	// 送信＝タイピング終了。同じ論理アクションの一部としてマーカーを消す
	if err := st.Delete(TypingCollection, u.ID); err != nil {
		return model.Message{}, fmt.Errorf("failed to clear typing marker: %w", err)
	}

	return model.Message{
		ID:        doc.Key,
		Text:      text,
		Sender:    sender,
		Avatar:    avatar,
		Timestamp: doc.Timestamp,
	}, nil
}

package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"coursehub/internal/chat"
	"coursehub/internal/model"
	"coursehub/internal/store"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// TUIクライアントなどブラウザ以外はOriginを送らない
				return true
			}
			return allowedMap[origin]
		},
	}
}

// clientEvent is what the page sends over the session socket.
type clientEvent struct {
	Type string `json:"type"` // "keystroke" | "blur" | "send"
	Text string `json:"text,omitempty"`
}

// messagesEvent pushes the full ordered message list.
type messagesEvent struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages"`
}

// typingEvent pushes the display names currently typing (self excluded).
type typingEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// HandleWebSocket handles GET /ws
//
// One connection is one page view: it owns a message stream and a
// typing controller, receives full snapshots of both collections, and
// forwards the user's keystroke/blur/send events. Teardown cancels the
// subscriptions exactly once and clears the user's typing marker.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, _ := h.Identity.Current(r)

	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[WebSocket] New session for user=%q from %s", user.ID, r.RemoteAddr)

	stream := chat.OpenStream(h.Store)
	defer stream.Close()

	typist := chat.NewTypist(h.Store, user, h.Config.TypingTTL)
	defer typist.Close()

	typingSub := h.Store.Subscribe(chat.TypingCollection)
	defer typingSub.Cancel()

	// 書き込みは単一のgoroutineに集約する（gorilla/websocketの制約）
	done := make(chan struct{})
	go h.writeLoop(conn, stream, typingSub, user.ID, done)

	// クライアントからのイベントを受信
	for {
		var ev clientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}

		switch ev.Type {
		case "keystroke":
			if err := typist.Keystroke(); err != nil {
				log.Printf("[WebSocket] ⚠️  Keystroke for %q: %v", user.ID, err)
			}
		case "blur":
			if err := typist.Blur(); err != nil {
				log.Printf("[WebSocket] ⚠️  Blur for %q: %v", user.ID, err)
			}
		case "send":
			if _, err := stream.Send(ev.Text, user); err != nil {
				log.Printf("[WebSocket] ⚠️  Send for %q: %v", user.ID, err)
			}
		default:
			// キープアライブ等は無視する
		}
	}

	close(done)
	log.Printf("[WebSocket] Session closed for user=%q", user.ID)
}

// writeLoop pushes message and typing snapshots to one session socket.
// It also re-evaluates typing staleness on a timer so a marker left by
// a crashed client disappears even without a store mutation.
func (h *Handler) writeLoop(conn *websocket.Conn, stream *chat.Stream, typingSub *store.Subscription, selfID string, done <-chan struct{}) {
	ttl := h.Config.TypingTTL
	if ttl <= 0 {
		ttl = chat.DefaultTypingTTL
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	var typingDocs []store.Document
	lastTyping := "\x00" // 初回は必ず送信する

	sendTyping := func() {
		names := chat.ActiveTypists(typingDocs, selfID, ttl, time.Now())
		line := chat.Indicator(names)
		if line == lastTyping {
			return
		}
		lastTyping = line
		if err := conn.WriteJSON(typingEvent{Type: "typing", Users: names}); err != nil {
			conn.Close()
		}
	}

	for {
		select {
		case msgs, ok := <-stream.Updates():
			if !ok {
				return
			}
			if err := conn.WriteJSON(messagesEvent{Type: "messages", Messages: msgs}); err != nil {
				conn.Close()
				return
			}
		case docs, ok := <-typingSub.C:
			if !ok {
				return
			}
			typingDocs = docs
			sendTyping()
		case <-ticker.C:
			sendTyping()
		case <-done:
			return
		}
	}
}

package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coursehub/internal/admin"
	"coursehub/internal/blob"
	"coursehub/internal/chat"
	"coursehub/internal/config"
	"coursehub/internal/identity"
	"coursehub/internal/model"
	"coursehub/internal/store"
)

// newTestHandler テスト用のHandlerを生成
func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	avatarDir := t.TempDir()
	blobs, err := blob.NewDirStore(avatarDir, "http://localhost:8080")
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	cfg := config.Config{
		AvatarDir:      avatarDir,
		AllowedOrigins: []string{"http://localhost:3000"},
		TypingTTL:      100 * time.Millisecond,
	}

	return New(st, cfg, blobs)
}

// seedUser テストユーザーを登録
func seedUser(t *testing.T, h *Handler, id, name string) {
	t.Helper()
	_, err := h.Store.Set(admin.UsersCollection, id, map[string]any{
		"displayName": name,
		"email":       name + "@example.com",
	})
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", id, err)
	}
}

// TestCreateMessage_Success メッセージ作成成功テスト
func TestCreateMessage_Success(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	body, _ := json.Marshal(map[string]string{"text": "Hello, World!"})
	req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type: application/json, got %s", w.Header().Get("Content-Type"))
	}

	var responseMsg model.Message
	json.Unmarshal(w.Body.Bytes(), &responseMsg)

	if responseMsg.ID == "" {
		t.Error("Expected auto-generated ID, got empty string")
	}
	if responseMsg.Text != "Hello, World!" {
		t.Errorf("Expected text 'Hello, World!', got %q", responseMsg.Text)
	}
	if responseMsg.Sender != "Alice" {
		t.Errorf("Expected sender 'Alice', got %q", responseMsg.Sender)
	}
	if responseMsg.Timestamp.IsZero() {
		t.Error("Expected server-assigned timestamp, got zero value")
	}
}

// TestCreateMessage_EmptyText 空文字は黙って無視される（204）
func TestCreateMessage_EmptyText(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	for _, text := range []string{"", "   ", "\n\t"} {
		body, _ := json.Marshal(map[string]string{"text": text})
		req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
		req.Header.Set("X-User-ID", "u1")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("text=%q: expected status %d, got %d", text, http.StatusNoContent, w.Code)
		}
	}

	docs, err := h.Store.List(chat.MessagesCollection)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected no messages written, got %d", len(docs))
	}
}

// TestCreateMessage_NoUser ユーザーなしも書き込まない
func TestCreateMessage_NoUser(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	body, _ := json.Marshal(map[string]string{"text": "hello"})
	req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}
}

// TestCreateMessage_InvalidJSON JSON パース失敗
func TestCreateMessage_InvalidJSON(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	req := httptest.NewRequest("POST", "/messages", strings.NewReader("invalid json"))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	var errResp map[string]string
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp["error"] != "Invalid request body" {
		t.Errorf("Expected 'Invalid request body' error, got %s", errResp["error"])
	}
}

// TestCreateMessage_ClearsTypingMarker 送信でタイピング表示が消える
func TestCreateMessage_ClearsTypingMarker(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	_, err := h.Store.Set(chat.TypingCollection, "u1", map[string]any{"displayName": "Alice"})
	if err != nil {
		t.Fatalf("Failed to seed typing marker: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"text": "done typing"})
	req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}

	if _, err := h.Store.Get(chat.TypingCollection, "u1"); err != store.ErrNotFound {
		t.Errorf("Expected typing marker to be removed, got err=%v", err)
	}
}

// TestGetMessages タイムスタンプ昇順で返る
func TestGetMessages(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	for _, text := range []string{"first", "second", "third"} {
		body, _ := json.Marshal(map[string]string{"text": text})
		req := httptest.NewRequest("POST", "/messages", bytes.NewReader(body))
		req.Header.Set("X-User-ID", "u1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("setup: expected 201, got %d", w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var msgs []model.Message
	json.Unmarshal(w.Body.Bytes(), &msgs)

	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Text != want {
			t.Errorf("messages[%d]: expected %q, got %q", i, want, msgs[i].Text)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].Timestamp.After(msgs[i-1].Timestamp) {
			t.Errorf("Timestamps not strictly increasing at index %d", i)
		}
	}
}

// TestCreatePost_Success 投稿作成テスト
func TestCreatePost_Success(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	body, _ := json.Marshal(map[string]any{
		"text":   "Check out these photos",
		"images": []string{"https://example.com/a.png", "https://example.com/b.png"},
	})
	req := httptest.NewRequest("POST", "/posts", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var post model.Post
	json.Unmarshal(w.Body.Bytes(), &post)

	if post.ID == "" {
		t.Error("Expected auto-generated ID, got empty string")
	}
	if len(post.Images) != 2 {
		t.Errorf("Expected 2 images, got %d", len(post.Images))
	}
	if post.Sender != "Alice" {
		t.Errorf("Expected sender 'Alice', got %q", post.Sender)
	}
}

// TestCreatePost_Empty テキストも画像もない投稿は拒否
func TestCreatePost_Empty(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	body, _ := json.Marshal(map[string]any{"text": ""})
	req := httptest.NewRequest("POST", "/posts", bytes.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestCreatePost_NoUser 未ログインは投稿不可
func TestCreatePost_NoUser(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	body, _ := json.Marshal(map[string]any{"text": "hello"})
	req := httptest.NewRequest("POST", "/posts", bytes.NewReader(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

// TestGetUsers ユーザー一覧取得テスト
func TestGetUsers(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	seedUser(t, h, "u2", "Bob")
	router := h.SetupRouter()

	req := httptest.NewRequest("GET", "/users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var users []model.User
	json.Unmarshal(w.Body.Bytes(), &users)

	if len(users) != 2 {
		t.Errorf("Expected 2 users, got %d", len(users))
	}
}

// TestDeleteCourse 講座削除テスト
func TestDeleteCourse(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	_, err := h.Store.Set(admin.CoursesCollection, "c1", map[string]any{"title": "Go入門"})
	if err != nil {
		t.Fatalf("Failed to seed course: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/courses/c1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	if _, err := h.Store.Get(admin.CoursesCollection, "c1"); err != store.ErrNotFound {
		t.Errorf("Expected course to be deleted, got err=%v", err)
	}
}

// TestDeleteCourse_NotFound 存在しない講座は404
func TestDeleteCourse_NotFound(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	req := httptest.NewRequest("DELETE", "/courses/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

// TestUploadAvatar アバター更新テスト（保存→URL→レコード更新）
func TestUploadAvatar(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	router := h.SetupRouter()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("avatar", "face.png")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write([]byte("fake png bytes"))
	mw.Close()

	req := httptest.NewRequest("POST", "/users/u1/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["avatarUrl"] == "" {
		t.Fatal("Expected avatarUrl in response")
	}

	// オブジェクトが実際に書かれていること
	saved := filepath.Join(h.Config.AvatarDir, "avatars", "u1")
	data, err := os.ReadFile(saved)
	if err != nil {
		t.Fatalf("Expected uploaded file at %s: %v", saved, err)
	}
	if string(data) != "fake png bytes" {
		t.Errorf("Uploaded content mismatch: %q", data)
	}

	// ユーザーレコードにURLが反映されていること
	doc, err := h.Store.Get(admin.UsersCollection, "u1")
	if err != nil {
		t.Fatalf("Get user failed: %v", err)
	}
	user, err := model.DecodeUser(doc.Key, doc.Data)
	if err != nil {
		t.Fatalf("DecodeUser failed: %v", err)
	}
	if user.AvatarURL != resp["avatarUrl"] {
		t.Errorf("Expected user avatarUrl %q, got %q", resp["avatarUrl"], user.AvatarURL)
	}
}

// TestUploadAvatar_UserNotFound 存在しないユーザーは404
func TestUploadAvatar_UserNotFound(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("avatar", "face.png")
	fw.Write([]byte("x"))
	mw.Close()

	req := httptest.NewRequest("POST", "/users/ghost/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

// --- WebSocket session ---

// wsEvent サーバーからのプッシュイベント
type wsEvent struct {
	Type     string          `json:"type"`
	Messages []model.Message `json:"messages"`
	Users    []string        `json:"users"`
}

// readUntil 指定条件のイベントが来るまで読み続ける
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsEvent) bool) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON failed while waiting for event: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func dialSession(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestWebSocket_InitialSnapshots 接続直後にメッセージ＆タイピングのスナップショットが届く
func TestWebSocket_InitialSnapshots(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")

	_, err := chat.Send(h.Store, "already here", identity.User{ID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("seed message failed: %v", err)
	}

	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	conn := dialSession(t, srv, "u1")

	ev := readUntil(t, conn, func(e wsEvent) bool { return e.Type == "messages" })
	if len(ev.Messages) != 1 || ev.Messages[0].Text != "already here" {
		t.Errorf("Expected initial snapshot with seeded message, got %+v", ev.Messages)
	}

	readUntil(t, conn, func(e wsEvent) bool { return e.Type == "typing" })
}

// TestWebSocket_SendAndBroadcast 送信イベントが両セッションに配信される
func TestWebSocket_SendAndBroadcast(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	seedUser(t, h, "u2", "Bob")

	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	alice := dialSession(t, srv, "u1")
	bob := dialSession(t, srv, "u2")

	if err := alice.WriteJSON(map[string]string{"type": "send", "text": "hi bob"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		ev := readUntil(t, conn, func(e wsEvent) bool {
			return e.Type == "messages" && len(e.Messages) == 1
		})
		if ev.Messages[0].Text != "hi bob" || ev.Messages[0].Sender != "Alice" {
			t.Errorf("%s: unexpected message %+v", name, ev.Messages[0])
		}
	}
}

// TestWebSocket_TypingLifecycle キー入力で表示、TTLで消える（自分自身は表示されない）
func TestWebSocket_TypingLifecycle(t *testing.T) {
	h := newTestHandler(t)
	seedUser(t, h, "u1", "Alice")
	seedUser(t, h, "u2", "Bob")

	srv := httptest.NewServer(h.SetupRouter())
	defer srv.Close()

	alice := dialSession(t, srv, "u1")
	bob := dialSession(t, srv, "u2")

	if err := bob.WriteJSON(map[string]string{"type": "keystroke"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	// Alice側にはBobが表示される
	ev := readUntil(t, alice, func(e wsEvent) bool {
		return e.Type == "typing" && len(e.Users) == 1
	})
	if ev.Users[0] != "Bob" {
		t.Errorf("Expected typing user 'Bob', got %q", ev.Users[0])
	}

	// TTL経過後に自動で消える
	readUntil(t, alice, func(e wsEvent) bool {
		return e.Type == "typing" && len(e.Users) == 0
	})
}

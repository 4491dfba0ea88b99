package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"coursehub/internal/chat"
	"coursehub/internal/model"
)

// GetMessages handles GET /messages
// タイムスタンプ昇順で全メッセージを返す
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /messages] Request received from %s", r.RemoteAddr)

	docs, err := h.Store.List(chat.MessagesCollection)
	if err != nil {
		log.Printf("[GET /messages] ❌ Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Store error")
		return
	}

	msgList := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		msg, err := model.DecodeMessage(d.Key, d.Data)
		if err != nil {
			log.Printf("[GET /messages] ⚠️  Skipping invalid record: %v", err)
			continue
		}
		msg.Timestamp = d.Timestamp
		msgList = append(msgList, msg)
	}

	log.Printf("[GET /messages] ✅ Returned %d messages", len(msgList))
	writeJSON(w, http.StatusOK, msgList)
}

// CreateMessage handles POST /messages
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /messages] Request received from %s", r.RemoteAddr)

	// リクエストボディサイズを1MBに制限
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[POST /messages] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, _ := h.Identity.Current(r)
	msg, err := chat.Send(h.Store, req.Text, user)
	if err != nil {
		log.Printf("[POST /messages] ❌ Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create message")
		return
	}

	// 前提条件を満たさない場合は黙って何もしない（ボタン非活性と同じ扱い）
	if msg.ID == "" {
		log.Printf("[POST /messages] Precondition not met (empty text or no user); nothing written")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	log.Printf("[POST /messages] ✅ Created message: ID=%s, Sender=%q", msg.ID, msg.Sender)
	writeJSON(w, http.StatusCreated, msg)
}

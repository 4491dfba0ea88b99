package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"coursehub/internal/admin"
	"coursehub/internal/blob"
	"coursehub/internal/config"
	"coursehub/internal/identity"
	"coursehub/internal/store"
)

// Handler holds application dependencies
type Handler struct {
	Store    *store.Store
	Config   config.Config
	Admin    *admin.Service
	Identity identity.Provider
}

// New creates a new Handler with the given dependencies
func New(st *store.Store, cfg config.Config, blobs blob.Store) *Handler {
	return &Handler{
		Store:    st,
		Config:   cfg,
		Admin:    &admin.Service{Store: st, Blobs: blobs},
		Identity: &identity.StoreProvider{Store: st},
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// チャット
	r.HandleFunc("/messages", h.GetMessages).Methods("GET")
	r.HandleFunc("/messages", h.CreateMessage).Methods("POST")

	// ソーシャルフィード
	r.HandleFunc("/posts", h.GetPosts).Methods("GET")
	r.HandleFunc("/posts", h.CreatePost).Methods("POST")

	// 管理画面
	r.HandleFunc("/users", h.GetUsers).Methods("GET")
	r.HandleFunc("/courses", h.GetCourses).Methods("GET")
	r.HandleFunc("/courses/{id}", h.DeleteCourse).Methods("DELETE")
	r.HandleFunc("/users/{id}/avatar", h.UploadAvatar).Methods("POST")

	// アップロード済みオブジェクトの配信
	r.PathPrefix("/avatars/").Handler(http.FileServer(http.Dir(h.Config.AvatarDir)))

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

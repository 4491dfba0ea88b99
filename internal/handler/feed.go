package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"coursehub/internal/feed"
	"coursehub/internal/model"
)

// GetPosts handles GET /posts
func (h *Handler) GetPosts(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /posts] Request received from %s", r.RemoteAddr)

	docs, err := h.Store.List(feed.PostsCollection)
	if err != nil {
		log.Printf("[GET /posts] ❌ Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Store error")
		return
	}

	posts := make([]model.Post, 0, len(docs))
	for _, d := range docs {
		p, err := model.DecodePost(d.Key, d.Data)
		if err != nil {
			log.Printf("[GET /posts] ⚠️  Skipping invalid record: %v", err)
			continue
		}
		posts = append(posts, p)
	}

	log.Printf("[GET /posts] ✅ Returned %d posts", len(posts))
	writeJSON(w, http.StatusOK, posts)
}

// CreatePost handles POST /posts
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /posts] Request received from %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req struct {
		Text   string   `json:"text"`
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[POST /posts] ❌ Bad Request: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Text == "" && len(req.Images) == 0 {
		log.Printf("[POST /posts] ❌ Bad Request: empty post")
		writeError(w, http.StatusBadRequest, "text or images required")
		return
	}

	user, ok := h.Identity.Current(r)
	if !ok {
		log.Printf("[POST /posts] ❌ No user identity")
		writeError(w, http.StatusUnauthorized, "Sign in required")
		return
	}

	sender := user.DisplayName
	if sender == "" {
		sender = model.AnonymousName
	}
	avatar := user.PhotoURL
	if avatar == "" {
		avatar = model.DefaultAvatarURL
	}

	doc, err := h.Store.Add(feed.PostsCollection, model.Post{
		Text:   req.Text,
		Sender: sender,
		Avatar: avatar,
		Images: req.Images,
	})
	if err != nil {
		log.Printf("[POST /posts] ❌ Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create post")
		return
	}

	post, err := model.DecodePost(doc.Key, doc.Data)
	if err != nil {
		log.Printf("[POST /posts] ❌ Decode error: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create post")
		return
	}

	log.Printf("[POST /posts] ✅ Created post: ID=%s, Images=%d", post.ID, len(post.Images))
	writeJSON(w, http.StatusCreated, post)
}

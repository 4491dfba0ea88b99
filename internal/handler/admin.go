package handler

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"coursehub/internal/store"
)

// GetUsers handles GET /users
// 管理画面はローカル状態を毎回この結果で丸ごと置き換える
func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /users] Request received from %s", r.RemoteAddr)

	users, err := h.Admin.ListUsers()
	if err != nil {
		log.Printf("[GET /users] ❌ Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Store error")
		return
	}

	log.Printf("[GET /users] ✅ Returned %d users", len(users))
	writeJSON(w, http.StatusOK, users)
}

// GetCourses handles GET /courses
func (h *Handler) GetCourses(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /courses] Request received from %s", r.RemoteAddr)

	courses, err := h.Admin.ListCourses()
	if err != nil {
		log.Printf("[GET /courses] ❌ Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Store error")
		return
	}

	log.Printf("[GET /courses] ✅ Returned %d courses", len(courses))
	writeJSON(w, http.StatusOK, courses)
}

// DeleteCourse handles DELETE /courses/{id}
func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log.Printf("[DELETE /courses/%s] Request received from %s", id, r.RemoteAddr)

	if err := h.Admin.DeleteCourse(id); err != nil {
		if err == store.ErrNotFound {
			log.Printf("[DELETE /courses/%s] ❌ Not Found", id)
			writeError(w, http.StatusNotFound, "Course not found")
			return
		}
		log.Printf("[DELETE /courses/%s] ❌ Store error: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to delete course")
		return
	}

	log.Printf("[DELETE /courses/%s] ✅ Deleted successfully", id)
	w.WriteHeader(http.StatusNoContent)
}

// UploadAvatar handles POST /users/{id}/avatar
// アップロード → 公開URL取得 → ユーザーレコード更新 の順で処理する
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log.Printf("[POST /users/%s/avatar] Request received from %s", id, r.RemoteAddr)

	// 画像アップロードは8MBまで
	r.Body = http.MaxBytesReader(w, r.Body, 8<<20)

	file, _, err := r.FormFile("avatar")
	if err != nil {
		log.Printf("[POST /users/%s/avatar] ❌ Bad Request: %v", id, err)
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	url, err := h.Admin.UpdateAvatar(id, file)
	if err != nil {
		if err == store.ErrNotFound {
			log.Printf("[POST /users/%s/avatar] ❌ Not Found", id)
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("[POST /users/%s/avatar] ❌ Upload error: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to update avatar")
		return
	}

	log.Printf("[POST /users/%s/avatar] ✅ Avatar updated: %s", id, url)
	writeJSON(w, http.StatusOK, map[string]string{"avatarUrl": url})
}

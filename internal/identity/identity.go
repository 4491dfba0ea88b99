package identity

import (
	"net/http"

	"coursehub/internal/model"
	"coursehub/internal/store"
)

// User is the authenticated identity consumed read-only by the chat and
// feed features. A zero ID means "no user".
type User struct {
	ID          string
	DisplayName string
	PhotoURL    string
}

// Provider resolves the current user for a request.
type Provider interface {
	Current(r *http.Request) (User, bool)
}

// StoreProvider resolves identities from the users collection using the
// X-User-ID header set by the auth front (the login flow itself lives
// outside this service).
type StoreProvider struct {
	Store *store.Store
}

// Current looks the header's user id up in the users collection. An
// unknown id still yields a usable identity — display name and avatar
// fall back at the call sites — so a freshly registered user can chat
// before their profile record lands.
func (p *StoreProvider) Current(r *http.Request) (User, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		// WebSocket接続ではヘッダーを付けられないクライアントもいるため
		// クエリパラメータも受け付ける
		id = r.URL.Query().Get("user")
	}
	if id == "" {
		return User{}, false
	}

	u := User{ID: id}
	doc, err := p.Store.Get("users", id)
	if err != nil {
		return u, true
	}
	rec, err := model.DecodeUser(doc.Key, doc.Data)
	if err != nil {
		return u, true
	}
	u.DisplayName = rec.DisplayName
	u.PhotoURL = rec.AvatarURL
	return u, true
}

package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// デフォルト値（表示名やアバターが未設定の場合に使用）
const (
	AnonymousName    = "Anonymous"
	SomeoneName      = "Someone"
	DefaultAvatarURL = "/default-avatar.png"
)

// Message represents a chat message. Messages are never mutated or
// deleted after creation; Timestamp is assigned by the store.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Avatar    string    `json:"avatar"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceMarker is an ephemeral "user is typing" record. At most one
// marker exists per user; the document key equals the user's id.
type PresenceMarker struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Timestamp   time.Time `json:"timestamp"`
}

// User is an admin-domain account record.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatarUrl"`
}

// Name returns the best display label for the user, falling back to
// the email address when no display name is set.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Course is an admin-domain course record.
type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Post is a social feed entry with an optional list of image URLs.
type Post struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Sender string   `json:"sender"`
	Avatar string   `json:"avatar"`
	Images []string `json:"images,omitempty"`
}

// DecodeError reports a record that failed validation at the store
// boundary, so missing fields surface as errors instead of zero values.
type DecodeError struct {
	Collection string
	Key        string
	Field      string
	Err        error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s/%s: %v", e.Collection, e.Key, e.Err)
	}
	return fmt.Sprintf("decode %s/%s: missing field %q", e.Collection, e.Key, e.Field)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeMessage validates and decodes a messages-collection document.
func DecodeMessage(key string, data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &DecodeError{Collection: "messages", Key: key, Err: err}
	}
	m.ID = key
	if m.Text == "" {
		return Message{}, &DecodeError{Collection: "messages", Key: key, Field: "text"}
	}
	// 送信者情報が欠けていてもメッセージ自体は表示できるようにフォールバック
	if m.Sender == "" {
		m.Sender = AnonymousName
	}
	if m.Avatar == "" {
		m.Avatar = DefaultAvatarURL
	}
	return m, nil
}

// DecodePresence validates and decodes a typingStatus-collection document.
// The document key is authoritative for the user id.
func DecodePresence(key string, data []byte) (PresenceMarker, error) {
	var p PresenceMarker
	if err := json.Unmarshal(data, &p); err != nil {
		return PresenceMarker{}, &DecodeError{Collection: "typingStatus", Key: key, Err: err}
	}
	if key == "" {
		return PresenceMarker{}, &DecodeError{Collection: "typingStatus", Key: key, Field: "userId"}
	}
	p.UserID = key
	if p.DisplayName == "" {
		p.DisplayName = SomeoneName
	}
	return p, nil
}

// DecodeUser validates and decodes a users-collection document.
func DecodeUser(key string, data []byte) (User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, &DecodeError{Collection: "users", Key: key, Err: err}
	}
	u.ID = key
	if u.DisplayName == "" && u.Email == "" {
		return User{}, &DecodeError{Collection: "users", Key: key, Field: "displayName"}
	}
	return u, nil
}

// DecodeCourse validates and decodes a courses-collection document.
func DecodeCourse(key string, data []byte) (Course, error) {
	var c Course
	if err := json.Unmarshal(data, &c); err != nil {
		return Course{}, &DecodeError{Collection: "courses", Key: key, Err: err}
	}
	c.ID = key
	if c.Title == "" {
		return Course{}, &DecodeError{Collection: "courses", Key: key, Field: "title"}
	}
	return c, nil
}

// DecodePost validates and decodes a posts-collection document.
func DecodePost(key string, data []byte) (Post, error) {
	var p Post
	if err := json.Unmarshal(data, &p); err != nil {
		return Post{}, &DecodeError{Collection: "posts", Key: key, Err: err}
	}
	p.ID = key
	if p.Text == "" && len(p.Images) == 0 {
		return Post{}, &DecodeError{Collection: "posts", Key: key, Field: "text"}
	}
	if p.Sender == "" {
		p.Sender = AnonymousName
	}
	if p.Avatar == "" {
		p.Avatar = DefaultAvatarURL
	}
	return p, nil
}

// Package admin implements the admin-panel backend: bulk reads of the
// user and course collections, course removal, and avatar replacement
// through the object store. Plain request/response calls, last write
// wins; none of the real-time machinery applies here.
package admin

import (
	"fmt"
	"io"
	"log"

	"coursehub/internal/blob"
	"coursehub/internal/model"
	"coursehub/internal/store"
)

// コレクション名（管理画面ドメイン）
const (
	UsersCollection   = "users"
	CoursesCollection = "courses"
)

// Service wires the admin operations to the document store and the
// object store.
type Service struct {
	Store *store.Store
	Blobs blob.Store
}

// ListUsers returns every user record. The caller replaces its local
// state wholesale with the result; there is no incremental sync.
func (s *Service) ListUsers() ([]model.User, error) {
	docs, err := s.Store.List(UsersCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]model.User, 0, len(docs))
	for _, d := range docs {
		u, err := model.DecodeUser(d.Key, d.Data)
		if err != nil {
			log.Printf("[admin] ⚠️  Skipping invalid user record: %v", err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// ListCourses returns every course record.
func (s *Service) ListCourses() ([]model.Course, error) {
	docs, err := s.Store.List(CoursesCollection)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	courses := make([]model.Course, 0, len(docs))
	for _, d := range docs {
		c, err := model.DecodeCourse(d.Key, d.Data)
		if err != nil {
			log.Printf("[admin] ⚠️  Skipping invalid course record: %v", err)
			continue
		}
		courses = append(courses, c)
	}
	return courses, nil
}

// DeleteCourse removes the course from the store. The view drops it from
// its local list after this returns.
func (s *Service) DeleteCourse(id string) error {
	if _, err := s.Store.Get(CoursesCollection, id); err != nil {
		return err
	}
	if err := s.Store.Delete(CoursesCollection, id); err != nil {
		return fmt.Errorf("failed to delete course: %w", err)
	}
	return nil
}

// UpdateAvatar uploads the image to the object store keyed by the user
// id, then persists the durable URL on the user record. Re-uploading
// overwrites the previous object under the same key.
func (s *Service) UpdateAvatar(userID string, file io.Reader) (string, error) {
	if _, err := s.Store.Get(UsersCollection, userID); err != nil {
		return "", err
	}

	url, err := s.Blobs.Upload("avatars/"+userID, file)
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	if _, err := s.Store.Update(UsersCollection, userID, map[string]any{"avatarUrl": url}); err != nil {
		return "", fmt.Errorf("failed to persist avatar url: %w", err)
	}
	return url, nil
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when no document exists under the key.
var ErrNotFound = errors.New("store: document not found")

// Document is a stored record with its store-assigned ordering metadata.
// Timestamp is assigned at write time by the store, never by the caller,
// so concurrent writers share a consistent global order regardless of
// their own clocks. Seq breaks exact timestamp ties by insertion order.
type Document struct {
	Key       string          `json:"key"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Store is a collection/key document store persisted in PebbleDB.
// A single handle is constructed at startup and injected into every
// consumer; tests construct their own against a temp directory.
type Store struct {
	db *pebble.DB

	// mu serializes writes so sequence numbers and timestamps are
	// assigned in a single total order.
	mu     sync.Mutex
	seq    uint64
	lastTS time.Time

	watchMu  sync.Mutex
	watchers map[string]map[*Subscription]struct{}
	closed   bool
}

// Open opens (or creates) the document store at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{
		db:       db,
		watchers: make(map[string]map[*Subscription]struct{}),
	}

	// 既存データから次のシーケンス番号とタイムスタンプを復元する
	it, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}
	for it.First(); it.Valid(); it.Next() {
		var doc Document
		if err := json.Unmarshal(it.Value(), &doc); err != nil {
			continue
		}
		if doc.Seq > s.seq {
			s.seq = doc.Seq
		}
		if doc.Timestamp.After(s.lastTS) {
			s.lastTS = doc.Timestamp
		}
	}
	if err := it.Close(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}

	return s, nil
}

// Close cancels all live subscriptions and closes the database.
func (s *Store) Close() error {
	s.watchMu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0)
	for _, set := range s.watchers {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	s.watchers = make(map[string]map[*Subscription]struct{})
	s.watchMu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return s.db.Close()
}

// docKey builds the pebble key for a document.
// Key format: c:<collection>:k:<key>（ProgressDB のキー形式に倣う）
func docKey(collection, key string) []byte {
	return []byte("c:" + collection + ":k:" + key)
}

func collectionPrefix(collection string) []byte {
	return []byte("c:" + collection + ":k:")
}

// stamp assigns the next server timestamp and sequence number.
// Timestamps are forced strictly increasing so the display order
// invariant holds even if the wall clock steps backwards.
func (s *Store) stamp() (time.Time, uint64) {
	ts := time.Now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts
	s.seq++
	return ts, s.seq
}

func (s *Store) put(collection string, doc Document) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := s.db.Set(docKey(collection, doc.Key), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// Add appends a new document with a store-assigned key and returns it.
func (s *Store) Add(collection string, v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	ts, seq := s.stamp()
	doc := Document{
		Key:       uuid.NewString(),
		Seq:       seq,
		Timestamp: ts,
		Data:      data,
	}
	err = s.put(collection, doc)
	s.mu.Unlock()
	if err != nil {
		return Document{}, err
	}

	s.notify(collection, seq)
	return doc, nil
}

// Set upserts the document under key. A second write for the same key
// replaces the first, never duplicates; the refreshed document gets a
// fresh server timestamp but keeps its original insertion sequence.
func (s *Store) Set(collection, key string, v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	ts, seq := s.stamp()
	ver := seq
	if prev, err := s.get(collection, key); err == nil {
		seq = prev.Seq
	}
	doc := Document{
		Key:       key,
		Seq:       seq,
		Timestamp: ts,
		Data:      data,
	}
	err = s.put(collection, doc)
	s.mu.Unlock()
	if err != nil {
		return Document{}, err
	}

	s.notify(collection, ver)
	return doc, nil
}

// Update merges partial fields into the existing document. Unknown keys
// are added, existing ones replaced; nested structures are not merged.
func (s *Store) Update(collection, key string, partial map[string]any) (Document, error) {
	s.mu.Lock()
	prev, err := s.get(collection, key)
	if err != nil {
		s.mu.Unlock()
		return Document{}, err
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(prev.Data, &fields); err != nil {
		s.mu.Unlock()
		return Document{}, fmt.Errorf("failed to decode document %s/%s: %w", collection, key, err)
	}
	for k, v := range partial {
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		s.mu.Unlock()
		return Document{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	ts, ver := s.stamp()
	doc := Document{
		Key:       key,
		Seq:       prev.Seq,
		Timestamp: ts,
		Data:      data,
	}
	err = s.put(collection, doc)
	s.mu.Unlock()
	if err != nil {
		return Document{}, err
	}

	s.notify(collection, ver)
	return doc, nil
}

// Delete removes the document under key. Deleting an absent key is a
// no-op, mirroring the delete semantics consumers rely on when clearing
// presence markers that may already have expired.
func (s *Store) Delete(collection, key string) error {
	s.mu.Lock()
	_, err := s.get(collection, key)
	if err == ErrNotFound {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	err = s.db.Delete(docKey(collection, key), pebble.Sync)
	// 削除もミューテーションとして数える（スナップショットの順序付けに使う）
	s.seq++
	ver := s.seq
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.notify(collection, ver)
	return nil
}

func (s *Store) get(collection, key string) (Document, error) {
	val, closer, err := s.db.Get(docKey(collection, key))
	if err == pebble.ErrNotFound {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read document: %w", err)
	}
	defer closer.Close()

	var doc Document
	if err := json.Unmarshal(val, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

// Get returns the document under key, or ErrNotFound.
func (s *Store) Get(collection, key string) (Document, error) {
	return s.get(collection, key)
}

// List returns all documents of the collection ordered by server
// timestamp ascending, ties broken by insertion sequence.
func (s *Store) List(collection string) ([]Document, error) {
	prefix := collectionPrefix(collection)
	upper := append(append([]byte{}, prefix...), 0xff)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	docs := make([]Document, 0, 16)
	for it.First(); it.Valid(); it.Next() {
		if !strings.HasPrefix(string(it.Key()), string(prefix)) {
			continue
		}
		var doc Document
		if err := json.Unmarshal(it.Value(), &doc); err != nil {
			it.Close()
			return nil, fmt.Errorf("failed to decode document in %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Timestamp.Equal(docs[j].Timestamp) {
			return docs[i].Seq < docs[j].Seq
		}
		return docs[i].Timestamp.Before(docs[j].Timestamp)
	})
	return docs, nil
}

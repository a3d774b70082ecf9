// Package store provides the entity store: CRUD over named collections of
// JSON records, persisted as one opaque blob under a fixed storage key.
//
// # Overview
//
// Records are schemaless JSON documents. Each collection is an ordered array
// with newest-first insertion order. The whole store round-trips through a
// pluggable Backend (in-memory, file, postgres), which keeps the persistence
// layout identical across backings: a single JSON object mapping collection
// name to record array.
//
// # Contracts
//
//   - Create assigns a fresh UUID identifier and a creation timestamp, then
//     prepends the record; the stored record is returned.
//   - Update shallow-merges the patch over the existing record and fails
//     with domain.ErrNotFound for an unknown id. It never creates.
//   - Filter is a conjunction of equality constraints; nil predicate values
//     are ignored.
//   - OrderBy accepts a field name, optionally prefixed with "-" for
//     descending order. Values compare per type: RFC3339 timestamps as
//     times, numbers numerically, strings lexicographically.
//
// # Concurrency
//
// A mutex serializes blob access within one process. The store is not
// transactional across collections and not safe for concurrent writers in
// separate processes; it is a single-agent simulation of a backend.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osteoscope/screening-service/internal/domain"
)

// DefaultStorageKey is the fixed key the blob is persisted under.
const DefaultStorageKey = "osteoscope_db_v1"

// Record is one decoded JSON document.
type Record = map[string]any

// Backend persists the store's single opaque blob.
type Backend interface {
	// Load returns the current blob, or nil if none has been saved yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the blob.
	Save(ctx context.Context, data []byte) error
}

// Store is the entity store over a blob backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time
	newID   func() string
}

// New creates a Store over the given backend.
func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Ping verifies the backend is reachable and the blob is loadable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load(ctx)
	return err
}

// load decodes the blob into collection map form. An absent or corrupt blob
// is treated as an empty store, never as a fatal error.
func (s *Store) load(ctx context.Context) (map[string][]Record, error) {
	data, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store blob: %w", err)
	}
	if len(data) == 0 {
		return map[string][]Record{}, nil
	}
	var db map[string][]Record
	if err := json.Unmarshal(data, &db); err != nil {
		return map[string][]Record{}, nil
	}
	if db == nil {
		db = map[string][]Record{}
	}
	return db, nil
}

func (s *Store) save(ctx context.Context, db map[string][]Record) error {
	data, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("encode store blob: %w", err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("save store blob: %w", err)
	}
	return nil
}

// List returns the records of a collection, optionally ordered and truncated.
// limit <= 0 means no truncation.
func (s *Store) List(ctx context.Context, collection, orderBy string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	rows := append([]Record(nil), db[collection]...)
	sortByField(rows, orderBy)
	return truncate(rows, limit), nil
}

// Filter returns the records matching every equality constraint in where,
// preserving relative insertion order unless orderBy is given.
func (s *Store) Filter(ctx context.Context, collection string, where Record, orderBy string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	var rows []Record
	for _, r := range db[collection] {
		if matchesWhere(r, where) {
			rows = append(rows, r)
		}
	}
	sortByField(rows, orderBy)
	return truncate(rows, limit), nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, collection, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range db[collection] {
		if recordID(r) == id {
			return r, nil
		}
	}
	return nil, domain.NewNotFoundError(collection, id)
}

// Create assigns a fresh id and creation timestamp to the payload, prepends
// it to the collection, and returns the stored record.
func (s *Store) Create(ctx context.Context, collection string, payload Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	row := Record{}
	for k, v := range payload {
		row[k] = v
	}
	row["id"] = s.newID()
	row["created_date"] = s.now().Format(time.RFC3339Nano)

	db[collection] = append([]Record{row}, db[collection]...)
	if err := s.save(ctx, db); err != nil {
		return nil, err
	}
	return row, nil
}

// Update shallow-merges patch over the record with the given id and returns
// the merged record. It fails with a NotFound condition for an unknown id
// and never creates a record.
func (s *Store) Update(ctx context.Context, collection, id string, patch Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	rows := db[collection]
	for i, r := range rows {
		if recordID(r) != id {
			continue
		}
		merged := Record{}
		for k, v := range r {
			merged[k] = v
		}
		for k, v := range patch {
			merged[k] = v
		}
		rows[i] = merged
		db[collection] = rows
		if err := s.save(ctx, db); err != nil {
			return nil, err
		}
		return merged, nil
	}
	return nil, domain.NewNotFoundError(collection, id)
}

// Remove deletes the record with the given id. Removing an absent id is not
// an error.
func (s *Store) Remove(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return err
	}
	rows := db[collection]
	kept := rows[:0]
	for _, r := range rows {
		if recordID(r) != id {
			kept = append(kept, r)
		}
	}
	db[collection] = kept
	return s.save(ctx, db)
}

func recordID(r Record) string {
	id, _ := r["id"].(string)
	return id
}

func truncate(rows []Record, limit int) []Record {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// matchesWhere reports whether the record satisfies every equality
// constraint in where. Nil constraint values are ignored.
func matchesWhere(r Record, where Record) bool {
	for k, want := range where {
		if want == nil {
			continue
		}
		if !valuesEqual(r[k], want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values by their canonical JSON encodings, so that
// int predicates match float64-decoded record fields.
func valuesEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// sortByField sorts rows in place by the given field. A "-" prefix sorts
// descending. The sort is stable so unordered equal values keep their
// insertion order.
func sortByField(rows []Record, orderBy string) {
	if orderBy == "" {
		return
	}
	field := orderBy
	desc := false
	if strings.HasPrefix(field, "-") {
		desc = true
		field = field[1:]
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(rows[i][field], rows[j][field])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareValues defines a total order per value type: absent values first,
// RFC3339 timestamps as times, numbers numerically, strings
// lexicographically, and anything else by its JSON encoding.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Compare(bt)
		}
	}
	if af, aok := a.(float64); aok {
		if bf, bok := b.(float64); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs)
		}
	}

	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return strings.Compare(string(aj), string(bj))
}

func asTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

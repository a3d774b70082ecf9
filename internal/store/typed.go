package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a typed view over one named collection. It round-trips
// records through JSON so the typed structs and the schemaless store stay in
// agreement about field names.
type Collection[T any] struct {
	store *Store
	name  string
}

// NewCollection creates a typed view over the named collection.
func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// List returns all records, optionally ordered and truncated.
func (c *Collection[T]) List(ctx context.Context, orderBy string, limit int) ([]T, error) {
	rows, err := c.store.List(ctx, c.name, orderBy, limit)
	if err != nil {
		return nil, err
	}
	return decodeRows[T](rows)
}

// Filter returns records matching every equality constraint in where.
func (c *Collection[T]) Filter(ctx context.Context, where Record, orderBy string, limit int) ([]T, error) {
	rows, err := c.store.Filter(ctx, c.name, where, orderBy, limit)
	if err != nil {
		return nil, err
	}
	return decodeRows[T](rows)
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	row, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return zero, err
	}
	return decodeRow[T](row)
}

// Create stores v as a new record, ignoring any id or created_date already
// set on it, and returns the stored form.
func (c *Collection[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	payload, err := encodeValue(v)
	if err != nil {
		return zero, err
	}
	delete(payload, "id")
	delete(payload, "created_date")
	row, err := c.store.Create(ctx, c.name, payload)
	if err != nil {
		return zero, err
	}
	return decodeRow[T](row)
}

// Update shallow-merges patch over the record with the given id.
func (c *Collection[T]) Update(ctx context.Context, id string, patch Record) (T, error) {
	var zero T
	row, err := c.store.Update(ctx, c.name, id, patch)
	if err != nil {
		return zero, err
	}
	return decodeRow[T](row)
}

// Remove deletes the record with the given id.
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	return c.store.Remove(ctx, c.name, id)
}

func encodeValue[T any](v T) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var payload Record
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	return payload, nil
}

func decodeRow[T any](row Record) (T, error) {
	var v T
	data, err := json.Marshal(row)
	if err != nil {
		return v, fmt.Errorf("encode stored record: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode stored record: %w", err)
	}
	return v, nil
}

func decodeRows[T any](rows []Record) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := decodeRow[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteoscope/screening-service/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(NewMemoryBackend())
}

func TestCreateAssignsIdentityAndTimestamp(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	row, err := s.Create(ctx, "Workflow", Record{"patient_name": "Asha"})
	require.NoError(t, err)

	assert.NotEmpty(t, row["id"])
	assert.Equal(t, "Asha", row["patient_name"])

	created, ok := row["created_date"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339Nano, created)
	assert.NoError(t, err)
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		row, err := s.Create(ctx, "Workflow", Record{"n": i})
		require.NoError(t, err)
		id := row["id"].(string)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCreatePrependsNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, "Workflow", Record{"seq": i})
		require.NoError(t, err)
	}

	rows, err := s.List(ctx, "Workflow", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, float64(2), rows[0]["seq"])
	assert.Equal(t, float64(0), rows[2]["seq"])
}

func TestUpdateShallowMerges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	row, err := s.Create(ctx, "Workflow", Record{
		"patient_name":  "Asha",
		"workflow_step": "upload",
	})
	require.NoError(t, err)
	id := row["id"].(string)

	merged, err := s.Update(ctx, "Workflow", id, Record{"workflow_step": "roi_detection"})
	require.NoError(t, err)

	assert.Equal(t, "roi_detection", merged["workflow_step"])
	assert.Equal(t, "Asha", merged["patient_name"], "untouched fields survive the merge")
	assert.Equal(t, id, merged["id"])
}

func TestUpdateUnknownIDNeverCreates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, "Workflow", "missing", Record{"x": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	rows, err := s.List(ctx, "Workflow", "", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetUnknownID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "Workflow", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Workflow", nf.Entity)
}

func TestFilterConjunction(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, r := range []Record{
		{"payment_status": "awaiting_verification", "region": "calcaneus"},
		{"payment_status": "awaiting_verification", "region": "clavicle"},
		{"payment_status": "pending", "region": "calcaneus"},
	} {
		_, err := s.Create(ctx, "Workflow", r)
		require.NoError(t, err)
	}

	rows, err := s.Filter(ctx, "Workflow", Record{
		"payment_status": "awaiting_verification",
		"region":         "calcaneus",
	}, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "calcaneus", rows[0]["region"])
}

func TestFilterIgnoresNilConstraints(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Workflow", Record{"patient_name": "Asha"})
	require.NoError(t, err)

	rows, err := s.Filter(ctx, "Workflow", Record{"patient_name": nil}, "", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilterNumericEquality(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Workflow", Record{"patient_age": 64})
	require.NoError(t, err)

	// Record fields decode as float64; an int predicate still matches.
	rows, err := s.Filter(ctx, "Workflow", Record{"patient_age": 64}, "", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOrderByCreatedDateDescending(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	i := 0
	s.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	for n := 0; n < 4; n++ {
		_, err := s.Create(ctx, "Workflow", Record{"seq": n})
		require.NoError(t, err)
	}

	rows, err := s.List(ctx, "Workflow", "-created_date", 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for j := 1; j < len(rows); j++ {
		prev, _ := time.Parse(time.RFC3339Nano, rows[j-1]["created_date"].(string))
		cur, _ := time.Parse(time.RFC3339Nano, rows[j]["created_date"].(string))
		assert.False(t, cur.After(prev), "rows out of descending order at %d", j)
	}
}

func TestOrderByNumericAscending(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []float64{3, 1, 2} {
		_, err := s.Create(ctx, "Scores", Record{"score": v})
		require.NoError(t, err)
	}

	rows, err := s.List(ctx, "Scores", "score", 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, float64(1), rows[0]["score"])
	assert.Equal(t, float64(3), rows[2]["score"])
}

func TestListLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for n := 0; n < 5; n++ {
		_, err := s.Create(ctx, "Workflow", Record{"seq": n})
		require.NoError(t, err)
	}

	rows, err := s.List(ctx, "Workflow", "", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRemoveAbsentIDIsNotAnError(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	assert.NoError(t, s.Remove(context.Background(), "Workflow", "missing"))
}

func TestCorruptBlobTreatedAsEmpty(t *testing.T) {
	t.Parallel()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Save(context.Background(), []byte("{not json")))

	s := New(backend)
	rows, err := s.List(context.Background(), "Workflow", "", 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Writes still succeed after starting from the corrupt blob.
	_, err = s.Create(context.Background(), "Workflow", Record{"ok": true})
	assert.NoError(t, err)
}

func TestCollectionsAreIsolated(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Workflow", Record{"kind": "workflow"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "XRayAnalysis", Record{"kind": "analysis"})
	require.NoError(t, err)

	rows, err := s.List(ctx, "Workflow", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "workflow", rows[0]["kind"])
}

type failingBackend struct {
	loadErr error
	saveErr error
	data    []byte
}

func (f *failingBackend) Load(context.Context) ([]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.data, nil
}

func (f *failingBackend) Save(_ context.Context, data []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.data = data
	return nil
}

func TestBackendErrorsPropagate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := New(&failingBackend{loadErr: fmt.Errorf("disk gone")})
	_, err := s.List(ctx, "Workflow", "", 0)
	assert.ErrorContains(t, err, "disk gone")

	s = New(&failingBackend{saveErr: fmt.Errorf("disk full")})
	_, err = s.Create(ctx, "Workflow", Record{"x": 1})
	assert.ErrorContains(t, err, "disk full")
}

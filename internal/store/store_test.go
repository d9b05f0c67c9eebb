package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFeedback(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	lat, lng := 45.764, 4.8357
	first, err := s.AddFeedback(ctx, FeedbackInput{Message: "  Missing trees on Rue Garibaldi ", DataType: "plantability", Lat: &lat, Lng: &lng})
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Missing trees on Rue Garibaldi", first.Message)

	_, err = s.AddFeedback(ctx, FeedbackInput{Message: "Great map", Email: "a@example.org"})
	require.NoError(t, err)

	_, err = s.AddFeedback(ctx, FeedbackInput{Message: "   "})
	assert.ErrorIs(t, err, ErrInvalid)

	list, err := s.ListFeedback(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Great map", list[0].Message, "newest first")
	assert.Equal(t, "a@example.org", list[0].Email)
	assert.Nil(t, list[0].Lat)
	require.NotNil(t, list[1].Lat)
	assert.Equal(t, lat, *list[1].Lat)
	assert.Equal(t, "plantability", list[1].DataType)
	assert.True(t, list[1].CreatedAt.Equal(first.CreatedAt))

	n, err := s.CountFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := s.ListFeedback(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)
}

func TestRecordVisit(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id := uuid.NewString()

	seen, err := s.HasVisited(ctx, id)
	require.NoError(t, err)
	assert.False(t, seen)

	v, err := s.RecordVisit(ctx, id)
	require.NoError(t, err)
	assert.False(t, v.HasVisitedBefore)
	assert.Equal(t, 1, v.Visits)

	v, err = s.RecordVisit(ctx, id)
	require.NoError(t, err)
	assert.True(t, v.HasVisitedBefore)
	assert.Equal(t, 2, v.Visits)

	seen, err = s.HasVisited(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = s.RecordVisit(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestTables(t *testing.T) {
	s := openTest(t)
	tables, err := s.Tables(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"feedback", "visitors"}, tables)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Config{DataDir: dir, DBName: "test"}, nil)
	require.NoError(t, err)
	_, err = s.AddFeedback(context.Background(), FeedbackInput{Message: "persisted"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), Config{DataDir: dir, DBName: "test"}, nil)
	require.NoError(t, err)
	defer s.Close()
	list, err := s.ListFeedback(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "persisted", list[0].Message)
}

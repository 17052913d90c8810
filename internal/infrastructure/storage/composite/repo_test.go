package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"targetwatch/internal/domain"
	"targetwatch/internal/infrastructure/storage"
)

type failingJournal struct {
	calls  int
	closed bool
}

func (f *failingJournal) RecordTransition(context.Context, *domain.TransitionRecord) error {
	f.calls++
	return errors.New("write failed")
}

func (f *failingJournal) Close() error {
	f.closed = true
	return nil
}

func TestRepo_FanOutFirstError(t *testing.T) {
	bad := &failingJournal{}
	mem := storage.NewInMemoryJournal()
	repo := New(nil, bad, mem)
	require.Equal(t, 2, repo.Len())

	err := repo.RecordTransition(context.Background(), &domain.TransitionRecord{ID: "x", Ticker: "ACME"})
	assert.EqualError(t, err, "write failed")
	assert.Equal(t, 1, bad.calls)

	got, err := repo.ListTransitions(context.Background(), "ACME", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, repo.Close())
	assert.True(t, bad.closed)
}

func TestRepo_NoHistory(t *testing.T) {
	_, err := New(storage.NoopJournal{}).ListTransitions(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrNoHistory)
}

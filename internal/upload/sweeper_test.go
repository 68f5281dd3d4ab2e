package upload

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepOnce(t *testing.T) {
	r, clock := newTestRegistry(t, 15*time.Second)
	sweeper := NewSweeper(r, time.Second)

	stale, stalePath := addTestUpload(t, r, 100, 10)
	clock.Advance(10 * time.Second)
	fresh, freshPath := addTestUpload(t, r, 100, 10)

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, sweeper.SweepOnce())

	_, err := os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshPath)
	assert.NoError(t, err)

	_, err = r.Acquire(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = r.Acquire(fresh)
	assert.NoError(t, err)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	r, clock := newTestRegistry(t, time.Second)
	sweeper := NewSweeper(r, 10*time.Millisecond)

	_, path := addTestUpload(t, r, 100, 10)
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 10*time.Millisecond)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

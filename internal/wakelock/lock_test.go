package wakelock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInhibitor struct {
	inhibits   int
	uninhibits int
	closed     bool
	failWith   error
}

func (f *fakeInhibitor) Name() string { return "fake" }

func (f *fakeInhibitor) Inhibit(context.Context, string) (func(context.Context) error, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.inhibits++
	return func(context.Context) error {
		f.uninhibits++
		return nil
	}, nil
}

func (f *fakeInhibitor) Close() error {
	f.closed = true
	return nil
}

func TestLock_AcquireReleaseAreIdempotent(t *testing.T) {
	inh := &fakeInhibitor{}
	l := newLock(zap.NewNop(), inh)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.True(t, l.Held())
	assert.Equal(t, 1, inh.inhibits)

	require.NoError(t, l.Release(ctx))
	require.NoError(t, l.Release(ctx))
	assert.False(t, l.Held())
	assert.Equal(t, 1, inh.uninhibits)
}

func TestLock_AcquireFailure(t *testing.T) {
	inh := &fakeInhibitor{failWith: errors.New("bus gone")}
	l := newLock(zap.NewNop(), inh)

	err := l.Acquire(context.Background())

	assert.ErrorContains(t, err, "bus gone")
	assert.False(t, l.Held())
}

func TestLock_CloseReleases(t *testing.T) {
	inh := &fakeInhibitor{}
	l := newLock(zap.NewNop(), inh)
	require.NoError(t, l.Acquire(context.Background()))

	require.NoError(t, l.Close())

	assert.False(t, l.Held())
	assert.Equal(t, 1, inh.uninhibits)
	assert.True(t, inh.closed)
}

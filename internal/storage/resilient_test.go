// internal/storage/resilient_test.go

package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/logging"
)

// fakeStore 為可控的測試後端。
type fakeStore struct {
	saveErr error
	loadErr error
	delay   time.Duration
	saves   int32
	snap    Snapshot
}

func (f *fakeStore) Name() string { return "fake" }
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) Save(ctx context.Context, snap Snapshot) error {
	atomic.AddInt32(&f.saves, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	f.snap = snap
	return nil
}

func (f *fakeStore) Load(ctx context.Context) (Snapshot, error) {
	if f.loadErr != nil {
		return Snapshot{}, f.loadErr
	}
	return f.snap, nil
}

func TestResilientPassesThrough(t *testing.T) {
	fake := &fakeStore{}
	rs := NewResilientStore(fake, DefaultResilientConfig(), logging.NewNoOpLogger())
	ctx := context.Background()

	require.NoError(t, rs.Save(ctx, sampleSnapshot()))
	snap, err := rs.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Accounts, 2)
	assert.Equal(t, "fake", rs.Name())
}

func TestResilientTripsAfterConsecutiveFailures(t *testing.T) {
	fake := &fakeStore{saveErr: errors.New("disk full")}
	cfg := ResilientConfig{FailureThreshold: 3, OpenTimeout: time.Minute}
	rs := NewResilientStore(fake, cfg, logging.NewNoOpLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := rs.Save(ctx, Snapshot{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	// 斷路器開啟後不再觸及後端
	err := rs.Save(ctx, Snapshot{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fake.saves))
}

// 損毀資料不是後端故障，不應讓斷路器開啟。
func TestResilientCorruptDoesNotTrip(t *testing.T) {
	fake := &fakeStore{loadErr: ErrCorrupt}
	cfg := ResilientConfig{FailureThreshold: 1, OpenTimeout: time.Minute}
	rs := NewResilientStore(fake, cfg, logging.NewNoOpLogger())

	for i := 0; i < 3; i++ {
		_, err := rs.Load(context.Background())
		require.ErrorIs(t, err, ErrCorrupt)
	}
	require.NoError(t, rs.Save(context.Background(), Snapshot{}))
}

func TestResilientTimeout(t *testing.T) {
	fake := &fakeStore{delay: 200 * time.Millisecond}
	cfg := ResilientConfig{Timeout: 20 * time.Millisecond, FailureThreshold: 5}
	rs := NewResilientStore(fake, cfg, logging.NewNoOpLogger())

	start := time.Now()
	err := rs.Save(context.Background(), Snapshot{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

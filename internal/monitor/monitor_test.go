package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/stepper-usb/internal/metrics"
	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
)

type fakeSource struct {
	mu        sync.Mutex
	enableErr error
	samples   []stepper.StreamSample
	readErr   error
	enabled   int
}

func (f *fakeSource) Execute(_ context.Context, cmd stepper.Command) (stepper.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled++
	if f.enableErr != nil {
		return nil, f.enableErr
	}
	return stepper.Ack{Op: cmd.Opcode()}, nil
}

func (f *fakeSource) ReadStream(context.Context) (stepper.StreamSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return stepper.StreamSample{}, f.readErr
	}
	if len(f.samples) == 0 {
		return stepper.StreamSample{}, errors.New("drained")
	}
	s := f.samples[0]
	if len(f.samples) > 1 {
		f.samples = f.samples[1:]
	}
	return s, nil
}

func TestMonitor_EnableFailureStops(t *testing.T) {
	src := &fakeSource{enableErr: errors.New("no ack")}
	m := New(src, time.Millisecond, 1, nil, nil)
	err := m.Run(context.Background())
	assert.EqualError(t, err, "no ack")

	_, _, err = m.Latest()
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestMonitor_TracksLatestAndTarget(t *testing.T) {
	src := &fakeSource{samples: []stepper.StreamSample{
		{Position: 0, FinalPosition: 300},
		{Position: 100, FinalPosition: 300},
		{Position: 200, FinalPosition: 300},
		{Position: 300, FinalPosition: 300},
	}}
	am := metrics.NewAppMetrics(metrics.NewRegistry())
	m := New(src, time.Millisecond, 1, nil, am)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	s, err := m.WaitForTarget(waitCtx, 300)
	require.NoError(t, err)
	assert.Equal(t, int32(300), s.Position)

	latest, at, err := m.Latest()
	require.NoError(t, err)
	assert.True(t, latest.AtTarget())
	assert.False(t, at.IsZero())

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 1, src.enabled)
}

func TestMonitor_ReadErrorsCounted(t *testing.T) {
	src := &fakeSource{readErr: errors.New("timeout")}
	m := New(src, time.Millisecond, 1, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Errors() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestMonitor_WaitForTargetCanceled(t *testing.T) {
	m := New(&fakeSource{}, time.Millisecond, 1, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.WaitForTarget(ctx, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/taoyao-code/stepper-usb/internal/protocol/stepper"
	"github.com/taoyao-code/stepper-usb/internal/session"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&session.NoResponseError{Op: stepper.OpRunSleep, Attempts: 3}, "no_response"},
		{&stepper.UnexpectedStatusError{Op: stepper.OpRunSleep, Expected: 2}, "unexpected_status"},
		{fmt.Errorf("read: %w", stepper.ErrMalformedFrame), "malformed"},
		{&session.UsbError{Op: "write", Err: errors.New("pipe")}, "usb_error"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Result(tt.err))
	}
}

func TestAppMetrics_Observer(t *testing.T) {
	m := NewAppMetrics(NewRegistry())

	m.CommandDone(stepper.OpMoveTrajectory, nil, 10*time.Millisecond)
	m.CommandDone(stepper.OpMoveTrajectory, &session.NoResponseError{}, time.Second)
	m.ReadRetry(stepper.OpMoveTrajectory)
	m.ReadRetry(stepper.OpMoveTrajectory)
	m.CommandRetry(stepper.OpMoveTrajectory)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandTotal.WithLabelValues("move_trajectory", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandTotal.WithLabelValues("move_trajectory", "no_response")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadRetryTotal.WithLabelValues("move_trajectory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandRetryTotal.WithLabelValues("move_trajectory")))

	m.ObserveSample(stepper.StreamSample{Position: 10, Speed: -5, FinalPosition: 20, EndSwitchActive: true})
	assert.Equal(t, 10.0, testutil.ToFloat64(m.StreamPosition))
	assert.Equal(t, -5.0, testutil.ToFloat64(m.StreamSpeed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EndSwitchActive))

	m.ObserveDeviceInfo(stepper.DeviceInfo{SupplyVoltage: 24, Temperature: 30})
	assert.Equal(t, 24.0, testutil.ToFloat64(m.SupplyVoltage))
}

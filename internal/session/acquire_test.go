package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/stepper-usb/internal/transport"
)

func TestOpen_DetachAndReattachOnce(t *testing.T) {
	s, h := openMock(t, true)
	assert.True(t, s.KernelDriverDetached())
	assert.Equal(t, 1, h.Calls(transport.OpDetach))
	assert.Equal(t, 1, h.Calls(transport.OpReset))
	assert.Equal(t, 1, h.Calls(transport.OpSetConfiguration))
	assert.Equal(t, 1, h.Calls(transport.OpClaim))

	s.Close()
	s.Close()
	assert.Equal(t, 1, h.Calls(transport.OpRelease))
	assert.Equal(t, 1, h.Calls(transport.OpAttach), "只重新挂载一次")
	assert.Equal(t, 1, h.Calls(transport.OpClose))
}

func TestOpen_NoKernelDriverNeverReattaches(t *testing.T) {
	s, h := openMock(t, false)
	assert.False(t, s.KernelDriverDetached())
	assert.Equal(t, 0, h.Calls(transport.OpDetach))

	s.Close()
	assert.Equal(t, 0, h.Calls(transport.OpAttach))
	assert.Equal(t, 1, h.Calls(transport.OpRelease))
	assert.Equal(t, 1, h.Calls(transport.OpClose))
}

func TestClose_FailuresAreSwallowed(t *testing.T) {
	s, h := openMock(t, true)
	h.FailOn(transport.OpRelease, errors.New("busy"))
	h.FailOn(transport.OpAttach, errors.New("no driver"))
	h.FailOn(transport.OpClose, errors.New("bad fd"))

	assert.NotPanics(t, s.Close)
	assert.Equal(t, 1, h.Calls(transport.OpRelease))
	assert.Equal(t, 1, h.Calls(transport.OpAttach))
	assert.Equal(t, 1, h.Calls(transport.OpClose))
}

func TestOpen_DeviceNotFound(t *testing.T) {
	h := transport.NewMockHandle(false)
	bus := transport.NewMockBus(h, testDevice)

	_, err := Open(bus, Config{VendorID: testVID, ProductID: 0x0001})
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = Open(bus, Config{VendorID: testVID, ProductID: testPID, Serial: "OTHER"})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 0, bus.Opened())
}

func TestOpen_SelectsBySerial(t *testing.T) {
	other := testDevice
	other.Serial, other.Address = "SN2", 9
	h := transport.NewMockHandle(false)
	s, err := Open(transport.NewMockBus(h, testDevice, other), Config{VendorID: testVID, ProductID: testPID, Serial: "SN2"})
	require.NoError(t, err)
	assert.Equal(t, uint8(9), s.Descriptor().Address)
}

func TestOpen_OpenFailure(t *testing.T) {
	h := transport.NewMockHandle(false)
	bus := transport.NewMockBus(h, testDevice)
	bus.OpenErr = errors.New("permission denied")

	_, err := Open(bus, Config{VendorID: testVID, ProductID: testPID})
	var ae *AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageOpen, ae.Stage)
	assert.Equal(t, 0, h.Calls(transport.OpClose))
}

func TestOpen_RollbackOnStageFailure(t *testing.T) {
	tests := []struct {
		name         string
		kernelDriver bool
		failOp       string
		stage        Stage
		wantAttach   int
	}{
		{"query driver", true, transport.OpKernelDriverActive, StageKernelDriver, 0},
		{"detach", true, transport.OpDetach, StageDetach, 0},
		{"reset after detach", true, transport.OpReset, StageReset, 1},
		{"reset without driver", false, transport.OpReset, StageReset, 0},
		{"configure after detach", true, transport.OpSetConfiguration, StageConfigure, 1},
		{"claim after detach", true, transport.OpClaim, StageClaim, 1},
		{"claim without driver", false, transport.OpClaim, StageClaim, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := transport.NewMockHandle(tt.kernelDriver)
			cause := errors.New("usb failure")
			h.FailOn(tt.failOp, cause)

			s, err := Open(transport.NewMockBus(h, testDevice), Config{VendorID: testVID, ProductID: testPID})
			assert.Nil(t, s)
			var ae *AcquisitionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.stage, ae.Stage)
			assert.ErrorIs(t, err, cause)

			assert.Equal(t, tt.wantAttach, h.Calls(transport.OpAttach))
			assert.Equal(t, 0, h.Calls(transport.OpRelease), "接口未被占用，不应释放")
			assert.Equal(t, 1, h.Calls(transport.OpClose))
		})
	}
}

func TestOpen_DiscoverFailure(t *testing.T) {
	_, err := Open(failingBus{err: errors.New("sysfs unavailable")}, Config{VendorID: testVID, ProductID: testPID})
	var ae *AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageDiscover, ae.Stage)
}

type failingBus struct{ err error }

func (b failingBus) Discover(uint16, uint16, string) ([]transport.Descriptor, error) {
	return nil, b.err
}

func (b failingBus) Open(transport.Descriptor) (transport.Handle, error) { return nil, b.err }

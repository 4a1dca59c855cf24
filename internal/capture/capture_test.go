package capture

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceConfigFormatting(t *testing.T) {
	cfg := DeviceConfig{VendorID: 0x05e3, ProductID: 0xf12a, Width: 640, Height: 480}
	assert.Equal(t, "05e3:f12a", cfg.ID())
	assert.Equal(t, "640x480", cfg.Resolution())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "streaming", Streaming.String())
}

func TestCaptureErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("tick: %w", NoData("capture live", "camera returned no frame"))
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNoData, kind)
	assert.False(t, IsFatal(wrapped))

	fatal := &CaptureError{Kind: KindFatal, Op: "capture live", Err: errors.New("exec: python3 not found")}
	assert.True(t, IsFatal(fatal))
	assert.False(t, fatal.Transient())
	assert.False(t, IsFatal(errors.New("plain")), "only capture errors are classified")
	assert.Contains(t, fatal.Error(), "python3 not found")

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestBusyMessage(t *testing.T) {
	assert.Equal(t, "capture still: device busy", Busy("capture still").Error())
}

func TestClaimIsExclusive(t *testing.T) {
	cfg := DeviceConfig{VendorID: 1, ProductID: 2, Index: 91}

	release, err := Claim(cfg)
	require.NoError(t, err)

	_, err = Claim(cfg)
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, DeviceBusy, ce.Kind)

	release()
	release()

	again, err := Claim(cfg)
	require.NoError(t, err)
	again()
}

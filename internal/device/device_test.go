package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/frame"
	"github.com/junsooki/microscope/internal/log"
)

func TestLayoutOf(t *testing.T) {
	cases := []struct {
		typ  gocv.MatType
		want frame.Layout
	}{
		{gocv.MatTypeCV8UC3, frame.LayoutBGR},
		{gocv.MatTypeCV8UC4, frame.LayoutBGRA},
		{gocv.MatTypeCV8UC1, frame.LayoutGray},
	}
	for _, tc := range cases {
		m := gocv.NewMatWithSize(2, 3, tc.typ)
		got, err := layoutOf(m)
		m.Close()
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	m := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV32F)
	defer m.Close()
	_, err := layoutOf(m)
	assert.Error(t, err)
}

func TestOpenRejectsHeldDevice(t *testing.T) {
	cfg := capture.DeviceConfig{VendorID: 0x05e3, ProductID: 0xf12a, Index: 9001, Width: 640, Height: 480, FPS: 30}
	release, err := capture.Claim(cfg)
	require.NoError(t, err)
	defer release()

	_, err = NewDriver(0, log.Discard()).Open(context.Background(), cfg)
	var ce *capture.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, capture.DeviceBusy, ce.Kind)
}

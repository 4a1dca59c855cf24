package microscope

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/frame"
	"github.com/junsooki/microscope/internal/persist"
)

type fakeSession struct {
	mu      sync.Mutex
	err     error
	reads   int
	stills  int
	closed  bool
	release func()
}

func (s *fakeSession) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	return testFrame(byte(s.reads)), nil
}

func (s *fakeSession) CaptureStill(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stills++
	if s.err != nil {
		return nil, s.err
	}
	return testFrame(200), nil
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.release()
	}
	return nil
}

func (s *fakeSession) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakeDriver struct {
	present bool
	openErr error
	last    *fakeSession
}

func (d *fakeDriver) Open(ctx context.Context, cfg capture.DeviceConfig) (capture.Session, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	release, err := capture.Claim(cfg)
	if err != nil {
		return nil, err
	}
	d.last = &fakeSession{release: release}
	return d.last, nil
}

func (d *fakeDriver) Probe(ctx context.Context, cfg capture.DeviceConfig) (bool, error) {
	return d.present, nil
}

func (d *fakeDriver) SelfTest(ctx context.Context) (string, error) {
	return "Hello from Python!", nil
}

func testFrame(v byte) *frame.Frame {
	pix := make([]byte, 4*3*3)
	for i := range pix {
		pix[i] = v
	}
	f, err := frame.New(pix, 4, 3, frame.LayoutBGR, time.UnixMilli(1700000000000))
	if err != nil {
		panic(err)
	}
	return f
}

var testDeviceIndex = 100

func newTestService(t *testing.T, drv capture.Driver) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	testDeviceIndex++
	dev := capture.DeviceConfig{VendorID: 0x05e3, ProductID: 0xf12a, Index: testDeviceIndex, Width: 640, Height: 480, FPS: 30}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(Options{
		Device: dev,
		Driver: drv,
		Gate:   persist.NewGate(dir, 95, logger),
		Log:    logger,
		Clock: func() time.Time {
			return time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
		},
	})
	t.Cleanup(func() { _ = svc.Disconnect() })
	return svc, dir
}

func TestServiceTransitions(t *testing.T) {
	svc, _ := newTestService(t, &fakeDriver{})
	ctx := context.Background()

	assert.Equal(t, capture.Disconnected, svc.State())
	assert.False(t, svc.StartStreaming(), "start without session")
	assert.True(t, svc.StopStreaming(), "stop while idle is a no-op")

	require.NoError(t, svc.Connect(ctx))
	assert.Equal(t, capture.Connected, svc.State())

	err := svc.Connect(ctx)
	var ce *capture.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, capture.DeviceBusy, ce.Kind)
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	assert.True(t, svc.StartStreaming())
	assert.True(t, svc.StartStreaming())
	assert.Equal(t, capture.Streaming, svc.State())
	assert.True(t, svc.IsStreaming())

	require.NoError(t, svc.Disconnect())
	assert.Equal(t, capture.Disconnected, svc.State())
	assert.False(t, svc.IsStreaming(), "disconnect stops streaming")
	require.NoError(t, svc.Disconnect())
}

func TestServiceRandomCommandSequences(t *testing.T) {
	svc, _ := newTestService(t, &fakeDriver{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	model := capture.Disconnected
	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			err := svc.Connect(ctx)
			if model == capture.Disconnected {
				require.NoError(t, err)
				model = capture.Connected
			} else {
				require.Error(t, err)
			}
		case 1:
			require.NoError(t, svc.Disconnect())
			model = capture.Disconnected
		case 2:
			ok := svc.StartStreaming()
			assert.Equal(t, model != capture.Disconnected, ok)
			if ok {
				model = capture.Streaming
			}
		case 3:
			assert.True(t, svc.StopStreaming())
			if model == capture.Streaming {
				model = capture.Connected
			}
		}
		require.Equal(t, model, svc.State(), "step %d", i)
	}
}

func TestServiceConnectFailure(t *testing.T) {
	drv := &fakeDriver{openErr: &capture.ConnectError{Kind: capture.DeviceUnavailable, Device: "05e3:f12a"}}
	svc, _ := newTestService(t, drv)

	err := svc.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, capture.Disconnected, svc.State())
	assert.Contains(t, svc.LogBook().String(), "connect failed")
}

func TestServiceCheckDevice(t *testing.T) {
	drv := &fakeDriver{present: true}
	svc, _ := newTestService(t, drv)
	ctx := context.Background()

	st := svc.CheckDevice(ctx)
	assert.True(t, st.Connected)
	assert.Equal(t, "05e3:f12a", st.ID)
	assert.Equal(t, "640x480", st.Resolution)
	assert.Equal(t, 30.0, st.FPS)
	assert.Equal(t, "disconnected", st.State)

	drv.present = false
	st = svc.CheckDevice(ctx)
	assert.False(t, st.Connected)
	assert.Empty(t, st.ID)

	require.NoError(t, svc.Connect(ctx))
	st = svc.CheckDevice(ctx)
	assert.True(t, st.Connected)
	assert.Equal(t, "connected", st.State)
}

func TestServiceLiveFrame(t *testing.T) {
	drv := &fakeDriver{}
	svc, _ := newTestService(t, drv)
	ctx := context.Background()

	lf := svc.GetLiveFrame(ctx)
	assert.False(t, lf.Success)
	assert.NotEmpty(t, lf.Error)

	require.NoError(t, svc.Connect(ctx))
	lf = svc.GetLiveFrame(ctx)
	require.True(t, lf.Success, lf.Error)
	assert.Equal(t, uint64(1700000000000), lf.TimestampMs)
	data, err := base64.StdEncoding.DecodeString(lf.ImageBase64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2], "jpeg magic")

	svc.StartStreaming()
	lf = svc.GetLiveFrame(ctx)
	require.True(t, lf.Success, lf.Error)
	_, seq, ok := svc.Slot().Snapshot()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), seq)
}

func TestServiceLiveFrameSurfacesScriptMessage(t *testing.T) {
	drv := &fakeDriver{}
	svc, _ := newTestService(t, drv)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx))
	drv.last.fail(&capture.CaptureError{Kind: capture.KindUnavailable, Op: "capture live", Msg: "Failed to open camera"})

	lf := svc.GetLiveFrame(ctx)
	assert.False(t, lf.Success)
	assert.Equal(t, "Failed to open camera", lf.Error)
}

func TestServiceFatalErrorStopsStreaming(t *testing.T) {
	drv := &fakeDriver{}
	svc, _ := newTestService(t, drv)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx))
	require.True(t, svc.StartStreaming())

	drv.last.fail(&capture.CaptureError{Kind: capture.KindUnavailable, Op: "capture live", Msg: "camera busy or unavailable"})
	require.Error(t, svc.Tick(ctx))
	assert.True(t, svc.IsStreaming(), "transient errors keep streaming")

	svc.StopStreaming()
	svc.StartStreaming()
	drv.last.fail(&capture.CaptureError{Kind: capture.KindFatal, Op: "capture live", Err: errors.New("exec: python3 not found")})
	require.Error(t, svc.Tick(ctx))
	assert.False(t, svc.IsStreaming())
	assert.Equal(t, capture.Connected, svc.State())
}

func TestServiceCaptureImage(t *testing.T) {
	drv := &fakeDriver{}
	svc, dir := newTestService(t, drv)
	ctx := context.Background()

	res := svc.CaptureImage(ctx)
	assert.False(t, res.Success)

	require.NoError(t, svc.Connect(ctx))
	res = svc.CaptureImage(ctx)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, filepath.Join(dir, "microscope_20240506_070809.jpg"), res.Path)
	assert.Equal(t, 1, drv.last.stills)

	onDisk, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	encoded, err := base64.StdEncoding.DecodeString(res.ImageBase64)
	require.NoError(t, err)
	assert.Equal(t, onDisk, encoded)
}

func TestServiceCaptureImageToWritesOnlyDest(t *testing.T) {
	drv := &fakeDriver{}
	svc, dir := newTestService(t, drv)
	ctx := context.Background()
	require.NoError(t, svc.Connect(ctx))

	res := svc.CaptureImageTo(ctx, "out.png")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, filepath.Join(dir, "out.png"), res.Path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.png", entries[0].Name())

	abs := filepath.Join(t.TempDir(), "abs.bmp")
	res = svc.CaptureImageTo(ctx, abs)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, abs, res.Path)
	assert.FileExists(t, abs)

	res = svc.CaptureImageTo(ctx, "out.tiff")
	assert.False(t, res.Success)
	assert.NoFileExists(t, filepath.Join(dir, "out.tiff"))
}

func TestServiceCaptureBusy(t *testing.T) {
	drv := &fakeDriver{}
	svc, _ := newTestService(t, drv)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx))
	drv.last.fail(capture.Busy("capture still"))

	res := svc.CaptureImage(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, "device busy", res.Error)
}

func TestServiceSaveFrame(t *testing.T) {
	svc, dir := newTestService(t, &fakeDriver{})

	_, err := svc.SaveFrame("x.png")
	assert.True(t, persist.IsKind(err, persist.NoFrame))

	svc.Slot().Publish(testFrame(9))
	path, err := svc.SaveFrame("x.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x.png"), path)
	assert.FileExists(t, path)
}

func TestServiceSaveImage(t *testing.T) {
	svc, dir := newTestService(t, &fakeDriver{})

	payload := []byte("not really a jpeg")
	path, err := svc.SaveImage(base64.StdEncoding.EncodeToString(payload), "shot.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shot.jpg"), path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = svc.SaveImage("%%%", "bad.jpg")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "bad.jpg"))
}

func TestServiceSaveRejectsNamesOutsideDir(t *testing.T) {
	svc, dir := newTestService(t, &fakeDriver{})
	outside := filepath.Dir(dir)

	for _, name := range []string{"../escaped.txt", filepath.Join(outside, "abs.txt")} {
		_, err := svc.SaveLog("pwned", name)
		assert.True(t, persist.IsKind(err, persist.InvalidName), "%q: %v", name, err)

		_, err = svc.SaveImage(base64.StdEncoding.EncodeToString([]byte("x")), name)
		assert.True(t, persist.IsKind(err, persist.InvalidName), "%q: %v", name, err)
	}
	assert.NoFileExists(t, filepath.Join(outside, "escaped.txt"))
	assert.NoFileExists(t, filepath.Join(outside, "abs.txt"))
}

func TestServiceSaveLog(t *testing.T) {
	svc, dir := newTestService(t, &fakeDriver{})

	path, err := svc.SaveLog("line one\nline two\n", "session.txt")
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(got), "text is written verbatim")

	svc.LogBook().Add("from the book")
	path, err = svc.SaveLog("", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "microscope_log_20240506_070809.txt"), path)
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(got), "from the book"))
}

func TestServiceSelfTest(t *testing.T) {
	svc, _ := newTestService(t, &fakeDriver{})
	out, err := svc.SelfTest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello from Python!", out)
}

func TestServicePumpStopsWithContext(t *testing.T) {
	svc, _ := newTestService(t, &fakeDriver{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, svc.Connect(ctx))
	require.True(t, svc.StartStreaming())

	done := make(chan struct{})
	go func() {
		svc.Pump(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, _, ok := svc.Slot().Snapshot()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after cancel")
	}
}

package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveScriptParameters(t *testing.T) {
	script, err := LiveScript(ScriptParams{
		Index: 4, Width: 640, Height: 480, FPS: 30, Quality: 80, Warmup: 2,
		TempFile: "/tmp/microscope_abc.jpg",
	})
	require.NoError(t, err)

	assert.Contains(t, script, "cv2.VideoCapture(4)")
	assert.Contains(t, script, "cv2.CAP_PROP_FRAME_WIDTH, 640")
	assert.Contains(t, script, "cv2.CAP_PROP_FRAME_HEIGHT, 480")
	assert.Contains(t, script, "cv2.CAP_PROP_FPS, 30")
	assert.Contains(t, script, "cv2.IMWRITE_JPEG_QUALITY, 80")
	assert.Contains(t, script, "range(2)")
	assert.Contains(t, script, `path = "/tmp/microscope_abc.jpg"`)
	assert.Contains(t, script, "os.remove(path)")
}

func TestScriptQuotesPaths(t *testing.T) {
	script, err := StillScript(ScriptParams{Index: 0, Width: 1, Height: 1, Quality: 95, TempFile: `/tmp/it's "odd".jpg`})
	require.NoError(t, err)
	assert.Contains(t, script, `path = "/tmp/it's \"odd\".jpg"`)
}

func TestProbeScriptID(t *testing.T) {
	script, err := ProbeScript(ScriptParams{Vendor: "05e3", Product: "f12a"})
	require.NoError(t, err)
	assert.Contains(t, script, `"05e3:f12a" in result.stdout`)
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/junsooki/microscope/internal/transport"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "microscope", rootCmd.Use)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "serve", "capture", "check", "view", "selftest"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestHostFlags(t *testing.T) {
	for _, c := range []string{"run", "serve"} {
		sub, _, err := rootCmd.Find([]string{c})
		assert.NoError(t, err)
		for _, flag := range []string{"listen", "connect", "stream"} {
			assert.NotNil(t, sub.Flags().Lookup(flag), "%s --%s", c, flag)
		}
	}
}

func TestRemoteState(t *testing.T) {
	var r remoteState
	assert.Equal(t, []string{"remote negotiating  streaming false"}, r.lines())

	r.connected = true
	r.apply(transport.Control{Command: transport.CommandStart, Success: true, Streaming: true})
	assert.Equal(t, []string{"remote connected  streaming true", "start: ok"}, r.lines())

	r.apply(transport.Control{Command: transport.CommandCapture, Success: true, Streaming: true, Path: "/tmp/a.jpg"})
	assert.Equal(t, "saved /tmp/a.jpg", r.lines()[1])

	r.apply(transport.Control{Command: transport.CommandCapture, Error: "device busy"})
	assert.Equal(t, "capture: device busy", r.lines()[1])
}

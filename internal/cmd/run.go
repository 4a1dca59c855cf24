package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/junsooki/microscope/internal/capture"
	"github.com/junsooki/microscope/internal/display"
	"github.com/junsooki/microscope/internal/log"
	"github.com/junsooki/microscope/internal/microscope"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the viewer window with the API server in the background",
	RunE:  runViewer,
}

func init() {
	addHostFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runViewer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := startHost(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	disp := display.NewEbitenDisplay(display.NewSlotSource(h.svc.Slot()), display.Options{
		Title:    "Microscope " + cfg.Device.ID(),
		OnAction: localActions(ctx, h.svc),
		Status:   localStatus(h.svc),
	})

	// Ebitengine RunGame must be on the main goroutine (macOS requirement).
	if err := disp.Run(); err != nil {
		log.Error("display", "err", err)
	}
	return h.close()
}

// localActions binds viewer keys to service commands. Failures are
// already recorded in the log book by the service.
func localActions(ctx context.Context, svc *microscope.Service) func(display.Action) {
	return func(a display.Action) {
		switch a {
		case display.ActionToggleStream:
			if svc.IsStreaming() {
				svc.StopStreaming()
			} else {
				svc.StartStreaming()
			}
		case display.ActionCapture:
			svc.CaptureImage(ctx)
		case display.ActionToggleConnect:
			if svc.State() == capture.Disconnected {
				_ = svc.Connect(ctx)
			} else {
				_ = svc.Disconnect()
			}
		case display.ActionSaveLog:
			_, _ = svc.SaveLog("", "")
		case display.ActionSaveFrame:
			_, _ = svc.SaveFrame("")
		}
	}
}

func localStatus(svc *microscope.Service) func() []string {
	return func() []string {
		st := svc.Stats()
		lines := []string{
			fmt.Sprintf("%s  %s  %s", svc.Device().ID(), svc.Device().Resolution(), svc.State()),
			fmt.Sprintf("fps %.1f  frames %d  skipped %d  errors %d", st.FPS, st.Frames, st.Skipped, st.Errors),
		}
		if book := svc.LogBook().Lines(); len(book) > 0 {
			lines = append(lines, book[len(book)-1])
		}
		return lines
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/junsooki/microscope/internal/api"
	"github.com/junsooki/microscope/internal/config"
	"github.com/junsooki/microscope/internal/log"
	"github.com/junsooki/microscope/internal/microscope"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API without a local window",
	Long: `Serve the command surface over HTTP, the WebRTC signaling endpoint for
remote viewers and the live log feed. The stream scheduler runs in the
background.`,
	RunE: runServe,
}

func init() {
	addHostFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

// addHostFlags registers the flags shared by serve and run.
func addHostFlags(c *cobra.Command) {
	c.Flags().String("listen", "127.0.0.1:8080", "API listen address")
	c.Flags().Bool("connect", false, "connect to the microscope at startup")
	c.Flags().Bool("stream", false, "start streaming after connecting")
}

func runServe(cmd *cobra.Command, args []string) error {
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
	select {
	case <-ctx.Done():
	case err := <-h.errc:
		h.errc <- err
	}
	log.Info("shutting down")
	return h.close()
}

// host is the running service, scheduler loop and API server.
type host struct {
	svc    *microscope.Service
	server *api.Server
	cancel context.CancelFunc
	errc   chan error
}

func startHost(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*host, error) {
	if cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	svc := newService(cfg)
	ctx, cancel := context.WithCancel(ctx)

	if connect, _ := cmd.Flags().GetBool("connect"); connect {
		if err := svc.Connect(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("connect: %w", err)
		}
		if stream, _ := cmd.Flags().GetBool("stream"); stream {
			svc.StartStreaming()
		}
	}

	go svc.Pump(ctx)

	server := api.NewServer(svc, api.Options{
		LiveQuality:  cfg.LiveQuality,
		Interval:     cfg.StreamInterval,
		AllowOrigins: cfg.AllowOrigins,
		Log:          log.Component("api"),
	})
	errc := make(chan error, 1)
	go func() {
		errc <- server.Listen(cfg.Listen)
	}()

	return &host{svc: svc, server: server, cancel: cancel, errc: errc}, nil
}

func (h *host) close() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := h.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("api shutdown: %w", err))
	}
	if err := h.svc.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	select {
	case err := <-h.errc:
		if err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	default:
	}
	return errors.Join(errs...)
}

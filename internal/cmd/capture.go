package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture [file]",
	Short: "Connect, take one high-quality capture and save it",
	Long: `Capture a single still image. Without a file argument the image is saved
as microscope_YYYYMMDD_HHMMSS.jpg in the output directory. With a file
argument only that file is written; relative names land in the output
directory and the extension picks the container (.jpg, .png or .bmp).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc := newService(cfg)
	ctx := cmd.Context()

	if err := svc.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, svc.Disconnect())
	}()

	var dest string
	if len(args) == 1 {
		dest = args[0]
	}
	res := svc.CaptureImageTo(ctx, dest)
	if !res.Success {
		return fmt.Errorf("capture failed: %s", res.Error)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Path)
	return nil
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/notify"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
	"github.com/bryanchriswhite/FocusMirror/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mirror a window now",
	Long: `Mirror one window onto a full-screen overlay until the desktop changes
or the process is interrupted.

Without --window the currently focused window is mirrored.`,
	Example: `  # Mirror the focused window at the configured frame rate
  focusmirror run

  # Mirror a specific window at 30 fps
  focusmirror run --window 0x3a00007 --rate 30

  # Mirror as fast as possible, scaled to fit and in grayscale
  focusmirror run --rate 0 --effects '[{"effect":"scale","mode":"fit"},{"effect":"grayscale"}]'

  # Dry run on the simulated desktop with the preview stream on port 8080
  focusmirror run --backend sim --preview`,
	RunE: runRun,
}

var runWindow string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runWindow, "window", "w", "", "window handle to mirror (decimal or 0x hex; default: focused window)")
	runCmd.Flags().Uint32P("rate", "r", 0, "frame rate: 0 for max rate, otherwise 30-120")
	runCmd.Flags().String("effects", "", "inline effect descriptor (JSON or YAML list)")
	runCmd.Flags().String("effects-file", "", "file holding the effect descriptor")
	runCmd.Flags().Bool("no-disturb", false, "keep the overlay below other windows and hide text overlays")
	runCmd.Flags().Bool("preview", false, "serve the MJPEG preview stream")
	runCmd.Flags().Bool("server", false, "serve the status API")
	runCmd.Flags().Int("port", 0, "status API port")

	viper.BindPFlag("frame_rate", runCmd.Flags().Lookup("rate"))
	viper.BindPFlag("effects", runCmd.Flags().Lookup("effects"))
	viper.BindPFlag("effects_file", runCmd.Flags().Lookup("effects-file"))
	viper.BindPFlag("no_disturb", runCmd.Flags().Lookup("no-disturb"))
	viper.BindPFlag("preview.enabled", runCmd.Flags().Lookup("preview"))
	viper.BindPFlag("server.enabled", runCmd.Flags().Lookup("server"))
	viper.BindPFlag("server.port", runCmd.Flags().Lookup("port"))
}

func parseHandle(s string) (platform.Handle, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window handle %q", s)
	}
	return platform.Handle(v), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	log := logger.WithComponent("cli")

	descriptor, err := a.cfg.EffectsDescriptor()
	if err != nil {
		return err
	}

	var source platform.Handle
	if runWindow != "" {
		if source, err = parseHandle(runWindow); err != nil {
			return err
		}
	} else if source, err = a.backend.ForegroundWindow(); err != nil {
		return fmt.Errorf("no focused window to mirror: %w", err)
	}

	if err := a.startServices(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	watched := notify.Watch(ctx, a.notifier)

	// Created on this thread before the loop starts; the loop thread is the
	// calling thread.
	sess, err := session.Create(a.deps(), session.Options{
		Source:    source,
		FrameRate: a.cfg.FrameRate,
		Effects:   descriptor,
		NoDisturb: a.cfg.NoDisturb,
	})
	if err != nil {
		notify.CreateFailed(a.notifier, err)
		stop()
		<-watched
		return err
	}

	log.Info().
		Uint64("window", uint64(source)).
		Stringer("rect", sess.SourceRect()).
		Uint32("frame_rate", a.cfg.FrameRate).
		Msg("Mirroring, press Ctrl+C to stop")

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go func() {
		select {
		case <-sess.Done():
		case <-ctx.Done():
		}
		stopLoop()
	}()

	err = a.runLoop(loopCtx)
	stop()
	<-watched

	if reason := sess.EndReason(); reason != session.ReasonNone {
		log.Info().Str("reason", string(reason)).Msg("Overlay ended")
	}
	return err
}

package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the message loop behind the status API",
	Long: `Start the platform message loop and the HTTP status API. Overlays are
created and destroyed through POST and DELETE /api/session; lifecycle events
stream on /api/session/events.`,
	Example: `  # Start the API on the configured port
  focusmirror serve

  # Start the API on a custom port with the MJPEG preview
  focusmirror serve --port 9090 --preview

  # Try the API without a display server
  focusmirror serve --backend sim`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "server port (default is 8080)")
	serveCmd.Flags().Bool("preview", false, "serve the MJPEG preview stream")
}

func runServe(cmd *cobra.Command, args []string) error {
	// serve always runs the API; flags only refine it.
	viper.Set("server.enabled", true)
	if f := cmd.Flags().Lookup("port"); f.Changed {
		viper.Set("server.port", f.Value.String())
	}
	if f := cmd.Flags().Lookup("preview"); f.Changed {
		viper.Set("preview.enabled", f.Value.String())
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.startServices(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	watched := notify.Watch(ctx, a.notifier)

	logger.WithComponent("cli").Info().
		Str("backend", a.backend.Name()).
		Msg("FocusMirror is running, press Ctrl+C to stop")

	err = a.runLoop(ctx)
	stop()
	<-watched
	return err
}

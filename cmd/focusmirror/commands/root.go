package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FocusMirror/internal/config"
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
)

var (
	cfgFile string
	envFile string
	rootCmd = &cobra.Command{
		Use:   "focusmirror",
		Short: "FocusMirror - mirror a window onto a full-screen overlay",
		Long: `FocusMirror captures the client area of one application window and
redraws it, through a configurable chain of image effects, on a full-screen
click-through overlay.

Features:
  • Fixed frame rate (30-120 fps) or as fast as the message loop allows
  • Scale, sharpen, grayscale, invert and text effects
  • Overlay closes itself when the desktop changes
  • Optional status API and MJPEG preview stream
  • Persistent configuration with FOCUSMIRROR_* overrides`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focusmirror/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with FOCUSMIRROR_* overrides")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")
	rootCmd.PersistentFlags().String("backend", "", "platform backend (auto, sim, x11, win32)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	}
	config.BindEnv(viper.GetViper())
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithComponent("cli").Debug().Err(err).Msg("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

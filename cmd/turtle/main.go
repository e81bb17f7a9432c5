package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/logging"
	"turtlecraft.ai/internal/tuning"
)

var (
	// Global flags
	configPath string
	verbose    bool
	useSim     bool
	linkURL    string
	timeout    time.Duration

	tu     tuning.Tuning
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "turtle",
	Short: "Navigate a mining turtle: routes, return-home and recovery",
	Long: `turtle drives one mining turtle through a 3D voxel world.

It keeps the turtle's pose, plans routes with A*, refuses moves that would
strand it outside its safety radius or without fuel to get home, and falls
back to GPS, the persisted pose or home when the pose is lost.

The turtle is reached over the websocket link (see sim-host), or simulated
in-process with --sim.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		tu, err = tuning.Load(configPath)
		if err != nil {
			return err
		}
		if linkURL != "" {
			tu.Link.URL = linkURL
		}
		lc := tu.Logging
		if verbose {
			lc.Level = "debug"
		}
		logger, err = logging.New(lc)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logger.Named("turtle")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/turtle.yaml", "Path to turtle.yaml (empty for built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Drive an in-process simulated turtle instead of the link")
	rootCmd.PersistentFlags().StringVar(&linkURL, "link", "", "Turtle link url (overrides link.url)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall operation timeout (0 for none)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(homeCmd)
	rootCmd.AddCommand(backtrackCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(trailCmd)
	rootCmd.AddCommand(simHostCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

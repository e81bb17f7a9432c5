package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"turtlecraft.ai/internal/transport/observer"
)

var statusEvery time.Duration

var runCmd = &cobra.Command{
	Use:   "run [mission.yaml]",
	Short: "Run a mission file while serving metrics and status",
	Long: `Runs the mission's steps in order. While it runs, /metrics serves
Prometheus metrics and /status (or the /status/ws feed) reports the
navigator's pose, fuel and emergency state on the metrics address.

The navigation state is saved when the mission ends, successfully or not.`,
	Args: cobra.ExactArgs(1),
	RunE: runMission,
}

func init() {
	runCmd.Flags().DurationVar(&statusEvery, "status-every", 2*time.Second, "How often pose and fuel gauges are refreshed")
}

func runMission(cmd *cobra.Command, args []string) error {
	m, err := LoadMission(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	st, err := openStack(ctx, tu, useSim, logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", st.metrics.Handler())
	obs := observer.NewServer(st.nav, logger.Named("observer"))
	mux.HandleFunc("/status", obs.StatusHandler())
	mux.HandleFunc("/status/ws", obs.WSHandler())
	srv := &http.Server{
		Addr:              tu.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	// done stops the helpers once the mission returns.
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		logger.Info("mission start", zap.String("name", m.Name), zap.Int("steps", len(m.Steps)))
		if err := RunMission(gctx, st.nav, m, logger.Named("mission")); err != nil {
			return err
		}
		logger.Info("mission complete", zap.Stringer("pose", st.nav.Position()))
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(statusEvery)
		defer ticker.Stop()
		for {
			st.publish(gctx)
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if srv.Addr != "" {
		g.Go(func() error {
			go func() {
				select {
				case <-done:
				case <-gctx.Done():
				}
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				_ = srv.Shutdown(sctx)
			}()
			logger.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

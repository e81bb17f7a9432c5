package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/transport/ws"
)

var simHostCmd = &cobra.Command{
	Use:   "sim-host",
	Short: "Serve a simulated turtle over the websocket link",
	Long: `Generates the configured voxel terrain, places a simulated turtle at home
and serves it on link.listen_addr at /turtle. Point other turtle commands at
it with --link ws://host:port/turtle.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		body := simBody(tu)
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.HandleFunc("/turtle", ws.NewHost(body, "sim-1", logger.Named("host")).Handler())
		srv := &http.Server{
			Addr:              tu.Link.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()

		logger.Info("sim host listening", zap.String("addr", srv.Addr), zap.Stringer("pose", body.TruePose()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		c := body.Counters()
		logger.Info("sim host stopped", zap.Int("moves", c.Moves), zap.Int("turns", c.Turns), zap.Int("digs", c.Digs))
		return nil
	},
}

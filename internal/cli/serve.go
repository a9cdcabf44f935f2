package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator/events"
	"github.com/GriffinCanCode/deepwatch/internal/screen"
	"github.com/GriffinCanCode/deepwatch/internal/server"
	"github.com/GriffinCanCode/deepwatch/internal/store"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(global *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API, live events and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, global)
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr != "" {
				rt.cfg.HTTPAddr = addr
			}

			capturer := screen.New(rt.log)
			defer capturer.Close()

			srv := server.New(server.Options{
				Runner:  rt.manager,
				Hub:     events.NewHub(0, 0, rt.log),
				Capture: capturer.Capture,
				OpenAudio: func() (audio.Source, func(), error) {
					src, err := openAudio(rt)
					if err != nil {
						return nil, nil, err
					}
					return src, src.Close, nil
				},
				Cleaner:       store.NewCleaner(rt.store, rt.log),
				RetentionDays: rt.cfg.RetentionDays,
				Logger:        rt.log,
			})

			httpServer := &http.Server{
				Addr:              rt.cfg.HTTPAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.log.Info("deepwatch server starting", "http", rt.cfg.HTTPAddr, "inference", rt.cfg.InferenceAddr)
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					srv.Close()
					return err
				}
			}

			rt.log.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				rt.log.Error("http shutdown error", "error", err)
			}
			srv.Close()
			rt.log.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: $HTTP_ADDR)")
	return cmd
}

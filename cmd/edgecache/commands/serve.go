package commands

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/Keksclan/edgecache"
	"github.com/Keksclan/edgecache/internal/logging"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

func (c *CLI) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the caching router, webhook dispatcher and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
			ctx := cmd.Context()

			rt, err := edgecache.New(ctx, edgecache.WithConfig(cfg), edgecache.WithLogger(logger))
			if err != nil {
				return err
			}
			edgecache.SetDefault(rt)
			rt.Start(ctx)

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: rt.Handler()}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", cfg.Server.Addr, "persistent", rt.Store.Persistent())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				logger.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
				defer cancel()
				err = srv.Shutdown(sctx)
			}
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return zerr.Wrap(err, "serving")
			}
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kevinxiao27/listsync/internal/config"
	"github.com/kevinxiao27/listsync/internal/replica"
	"github.com/kevinxiao27/listsync/internal/store"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	def := config.DefaultConfig()

	var configFile string
	cmd := &cobra.Command{
		Use:   "listsync-server",
		Short: "Serve replicated shopping lists over HTTP and websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "load configuration from file")
	flags.String("listen", def.Listen, "address to serve the API on")
	flags.StringP("data-dir", "d", def.DataDir, "directory for the list database")
	flags.Bool("in-memory", def.InMemory, "keep lists in memory only")
	flags.String("log-level", def.LogLevel, "log level (debug, info, warn, error)")
	flags.Bool("dev", def.Dev, "human readable development logging")
	flags.Int("update-retries", def.UpdateRetries, "attempts for a conflicting list update")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Store(), logger.Named("store"))
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := replica.New(ctx, st, logger.Named("replica"))
	if err != nil {
		return err
	}

	api := NewServer(r, logger.Named("http"))
	// websocket sessions must end before the store closes
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api server starting",
			zap.String("listen", cfg.Listen),
			zap.Stringer("replica", r.ID()),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

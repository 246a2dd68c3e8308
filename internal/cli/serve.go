package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/go-listening-tracker/internal/tracker"
	"github.com/justestif/go-listening-tracker/internal/web"
)

const shutdownTimeout = 10 * time.Second

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracker and its HTTP API",
	Long:  "Starts the session tracker and serves the event, status, statistics, recap and sync endpoints until interrupted.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides config)")
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}

	if err := a.kv.Start(ctx); err != nil {
		_ = a.close(context.Background())
		return err
	}

	t := tracker.New(a.stats, a.resolver, a.kv,
		tracker.WithClock(a.clock),
		tracker.WithLogger(a.logger),
		tracker.WithTickInterval(a.cfg.Tracker.TickInterval),
		tracker.WithSaveInterval(a.cfg.Tracker.SaveInterval),
		tracker.WithEnrichTimeout(a.cfg.Tracker.EnrichTimeout),
	)
	if err := t.Start(ctx); err != nil {
		_ = a.close(context.Background())
		return fmt.Errorf("starting tracker: %w", err)
	}

	addr := a.cfg.Addr
	if addrFlag != "" {
		addr = addrFlag
	}
	server := web.NewServer(web.ServerConfig{
		Addr:     addr,
		Tracker:  t,
		Stats:    a.stats,
		Recaps:   a.recaps,
		Sync:     a.sync,
		Artists:  a.artists,
		ClientID: a.clientIDSetter(),
		Clock:    a.clock,
		Logger:   a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(
			server.Shutdown(shutdownCtx),
			t.Close(shutdownCtx),
			a.close(shutdownCtx),
		)
	})

	return g.Wait()
}

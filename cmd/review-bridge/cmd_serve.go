package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reviewharvest/review-bridge/internal/api"
	"github.com/reviewharvest/review-bridge/internal/service"
)

// serveCmd runs the HTTP API and the optional scheduler
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API used by the dashboard and the MCP tools",
	Long: `Starts the HTTP API on API_ADDR. Runs are started through POST /api/runs
or, when SCHEDULE_MINUTES is set, every N minutes.`,
	RunE: serve,
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := service.NewCampaignService(a.uc.Runner, logger)
	apiServer := api.NewServer(a.uc.Customers, svc, a.cfg.API.Addr, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	var scheduler *service.CampaignScheduler
	if interval := a.cfg.ScheduleInterval(); interval > 0 {
		scheduler = service.NewCampaignScheduler(svc, interval, logger)
		scheduler.Start(ctx)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("API server error", zap.Error(err))
	}

	if scheduler != nil {
		scheduler.Stop()
	}
	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("API server shutdown", zap.Error(stopErr))
	}
	return err
}

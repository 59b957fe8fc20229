package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyexec/internal/domain"
	"github.com/alanyoungcy/polyexec/internal/executor"
	"github.com/alanyoungcy/polyexec/internal/server"
	"github.com/alanyoungcy/polyexec/internal/server/handler"
	"github.com/alanyoungcy/polyexec/internal/server/ws"
	"github.com/alanyoungcy/polyexec/internal/service"
)

// ServeMode runs the HTTP API, the progress WebSocket hub and the
// idempotency-key janitor until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	ttl := a.cfg.Server.IdempotencyTTL.Duration
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	dedup := executor.NewDedup(ttl)

	hub := ws.NewHub(deps.ProgressBus, deps.Trades, service.ProgressChannel, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	health := map[string]handler.Pinger{}
	if deps.Redis != nil {
		health["redis"] = deps.Redis
	}
	if deps.Postgres != nil {
		health["postgres"] = deps.Postgres
	}
	if deps.S3 != nil {
		health["s3"] = deps.S3
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(health, a.logger),
		Trades: handler.NewTradeHandler(deps.Trades, dedup, a.logger),
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				dedup.Cleanup()
				a.logger.DebugContext(ctx, "idempotency keys pruned", slog.Int("live", dedup.Len()))
			}
		}
	})

	return g.Wait()
}

// OnceRequest is the single order executed by OnceMode.
type OnceRequest struct {
	UserID string
	Text   string
	Out    io.Writer
}

// OnceMode executes one request, streams its progress as log lines and
// writes the final report to req.Out as indented JSON. It returns an error
// when the request failed so the exit status reflects the outcome.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies, req OnceRequest) error {
	if req.Text == "" {
		return fmt.Errorf("app: once mode needs -text")
	}
	userID := req.UserID
	if userID == "" {
		userID = "cli"
	}

	sink := domain.ProgressFunc(func(ctx context.Context, ev domain.ProgressEvent) {
		a.logger.InfoContext(ctx, "progress",
			slog.String("request_id", ev.RequestID),
			slog.String("stage", ev.Stage),
			slog.String("message", ev.Message),
		)
	})

	report := deps.Trades.Execute(ctx, domain.TradeRequest{UserID: userID, Text: req.Text}, sink)

	if req.Out != nil {
		enc := json.NewEncoder(req.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("app: write report: %w", err)
		}
	}
	if report.Status != domain.TradeStatusSuccess {
		return fmt.Errorf("app: trade failed (%s): %s", report.ErrorKind, report.Message)
	}
	return nil
}

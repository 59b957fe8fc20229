package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
	"github.com/alanyoungcy/polyexec/internal/executor"
)

// IntentResolver turns a request into an order intent.
type IntentResolver interface {
	Resolve(ctx context.Context, req domain.TradeRequest) (domain.OrderIntent, error)
}

// TokenResolver maps market names and condition ids to token ids.
type TokenResolver interface {
	ResolveToken(ctx context.Context, candidateID, outcomeHint, marketHint string, side domain.Side, userID string) (string, error)
}

// SizeResolver resolves relative sell sizes against current holdings.
type SizeResolver interface {
	ResolveSize(ctx context.Context, tokenID, wallet string, hint domain.SizeHint) (decimal.Decimal, error)
}

// Finalizer prices and sizes an intent.
type Finalizer interface {
	Finalize(ctx context.Context, in domain.OrderIntent) (domain.FinalizedOrder, error)
}

// Authorizer runs the pre-submission checks.
type Authorizer interface {
	Authorize(ctx context.Context, order domain.FinalizedOrder) error
}

// Executor submits a finalized order through the execution state machine.
type Executor interface {
	Run(ctx context.Context, requestID string, order domain.FinalizedOrder, sink domain.ProgressSink) (executor.Outcome, error)
}

// ReportNotifier announces terminal reports.
type ReportNotifier interface {
	TradeFinished(ctx context.Context, r domain.TradeReport) error
}

// ReportLoader reads archived reports.
type ReportLoader interface {
	LoadReport(ctx context.Context, requestID string) (domain.TradeReport, error)
}

// TradeMetrics records pipeline metrics. *metrics.Metrics implements it.
type TradeMetrics interface {
	TradeStarted() func()
	TradeFinished(r domain.TradeReport)
	ObserveStage(stage string, d time.Duration)
}

// ProgressChannel is the bus channel carrying a request's progress events.
func ProgressChannel(requestID string) string { return "progress:" + requestID }

// TradeDeps holds the collaborators of a TradeService. Archive, Loader,
// Notifier, Metrics and Bus are optional.
type TradeDeps struct {
	Resolver   IntentResolver
	Markets    TokenResolver
	Positions  SizeResolver
	Pricer     Finalizer
	Guard      Authorizer
	Machine    Executor
	Executions domain.ExecutionStore
	Audit      domain.AuditStore
	Archive    domain.ReportArchiver
	Loader     ReportLoader
	Notifier   ReportNotifier
	Metrics    TradeMetrics
	Bus        domain.ProgressBus
}

// TradeService runs the natural-language order pipeline end to end:
// parse, resolve, price, guard, execute, then persist and announce the
// report.
type TradeService struct {
	deps           TradeDeps
	wallet         string
	persistTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewTradeService creates a TradeService. wallet is the address whose
// holdings back relative sell sizes.
func NewTradeService(deps TradeDeps, wallet string, logger *slog.Logger) *TradeService {
	return &TradeService{
		deps:           deps,
		wallet:         wallet,
		persistTimeout: 10 * time.Second,
		logger:         logger.With(slog.String("component", "trade_service")),
		now:            time.Now,
	}
}

// Execute runs req to completion and returns its report. It never returns
// without a user-facing message, including when a stage panics.
func (s *TradeService) Execute(ctx context.Context, req domain.TradeRequest, sink domain.ProgressSink) (report domain.TradeReport) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if s.deps.Metrics != nil {
		done := s.deps.Metrics.TradeStarted()
		defer done()
	}

	report = domain.TradeReport{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		Text:      req.Text,
		StartedAt: s.now().UTC(),
	}
	rec := &progressRecorder{svc: s, requestID: req.RequestID, next: sink}

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "trade_service: pipeline panic",
				slog.String("request_id", req.RequestID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			report.Status = domain.TradeStatusFailed
			report.ErrorKind = domain.KindInternal
			report.Message = ErrorMessage(fmt.Errorf("panic: %v", r))
			s.finish(ctx, &report, rec)
		}
	}()

	order, out, err := s.run(ctx, req, rec)
	if order.TokenID != "" {
		report.Side = order.Side
		report.OrderType = order.Type()
		report.TokenID = order.TokenID
		report.Price = order.Price
		report.Size = order.Size
		report.Notional = order.Notional
	}
	report.Attempts = out.Attempts

	if err != nil {
		report.Status = domain.TradeStatusFailed
		report.ErrorKind = domain.ErrorKind(err)
		report.Message = ErrorMessage(err)
		s.logger.WarnContext(ctx, "trade_service: request failed",
			slog.String("request_id", req.RequestID),
			slog.String("kind", report.ErrorKind),
			slog.String("error", err.Error()),
		)
	} else {
		report.Status = domain.TradeStatusSuccess
		report.FillState = out.FillState()
		if out.Result != nil {
			report.OrderID = out.Result.OrderID
			report.TxHashes = out.Result.TransactionHashes
		}
		report.Message = SuccessMessage(order, out.Result, report.FillState)
	}

	s.finish(ctx, &report, rec)
	return report
}

func (s *TradeService) run(ctx context.Context, req domain.TradeRequest, rec *progressRecorder) (domain.FinalizedOrder, executor.Outcome, error) {
	var (
		order domain.FinalizedOrder
		out   executor.Outcome
	)

	start := s.now()
	rec.emit(ctx, domain.StageParse, "Reading your order")
	in, err := s.deps.Resolver.Resolve(ctx, req)
	s.observe(domain.StageParse, start)
	if err != nil {
		return order, out, err
	}

	start = s.now()
	if NeedsResolution(in.TokenID) {
		rec.emit(ctx, domain.StageResolve, "Looking up the market")
		token, err := s.deps.Markets.ResolveToken(ctx, in.TokenID, in.Outcome, in.MarketHint, in.Side, in.UserID)
		if err != nil {
			return order, out, err
		}
		in.TokenID = token
	}
	if in.SizeHint != domain.SizeAbsolute {
		rec.emit(ctx, domain.StageResolve, "Checking your position")
		size, err := s.deps.Positions.ResolveSize(ctx, in.TokenID, s.wallet, in.SizeHint)
		if err != nil {
			return order, out, err
		}
		in.Size = size
		in.SizeHint = domain.SizeAbsolute
		in.MaxSize = decimal.NewNullDecimal(size)
	}
	s.observe(domain.StageResolve, start)

	start = s.now()
	rec.emit(ctx, domain.StagePrice, "Pricing your order")
	order, err = s.deps.Pricer.Finalize(ctx, in)
	s.observe(domain.StagePrice, start)
	if err != nil {
		return domain.FinalizedOrder{}, out, err
	}

	start = s.now()
	rec.emit(ctx, domain.StageGuard, fmt.Sprintf("Checking funds for %s %s tokens at $%s",
		order.Side, order.Size.String(), order.Price.StringFixed(2)))
	err = s.deps.Guard.Authorize(ctx, order)
	s.observe(domain.StageGuard, start)
	if err != nil {
		return order, out, err
	}

	start = s.now()
	out, err = s.deps.Machine.Run(ctx, req.RequestID, order, rec)
	s.observe(domain.StageSubmit, start)
	return order, out, err
}

func (s *TradeService) observe(stage string, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveStage(stage, s.now().Sub(start))
	}
}

// finish publishes the terminal event and records the report. Recording
// failures are logged; they never change the report.
func (s *TradeService) finish(ctx context.Context, report *domain.TradeReport, rec *progressRecorder) {
	report.FinishedAt = s.now().UTC()
	rec.emit(ctx, domain.StageDone, report.Message)
	report.Progress = rec.events

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	if s.deps.Executions != nil {
		if err := s.deps.Executions.Save(pctx, *report); err != nil {
			s.logger.ErrorContext(ctx, "trade_service: save execution failed",
				slog.String("request_id", report.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Audit != nil {
		event := "trade_executed"
		if report.Status != domain.TradeStatusSuccess {
			event = "trade_failed"
		}
		if err := s.deps.Audit.Log(pctx, event, map[string]any{
			"request_id": report.RequestID,
			"user_id":    report.UserID,
			"side":       string(report.Side),
			"token_id":   report.TokenID,
			"price":      report.Price.String(),
			"size":       report.Size.String(),
			"notional":   report.Notional.String(),
			"order_id":   report.OrderID,
			"error_kind": report.ErrorKind,
			"attempts":   len(report.Attempts),
		}); err != nil {
			s.logger.WarnContext(ctx, "trade_service: audit log failed",
				slog.String("request_id", report.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Archive != nil {
		if err := s.deps.Archive.ArchiveReport(pctx, *report); err != nil {
			s.logger.WarnContext(ctx, "trade_service: archive failed",
				slog.String("request_id", report.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.TradeFinished(pctx, *report); err != nil {
			s.logger.WarnContext(ctx, "trade_service: notify failed",
				slog.String("request_id", report.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.TradeFinished(*report)
	}

	s.logger.InfoContext(ctx, "trade_service: request finished",
		slog.String("request_id", report.RequestID),
		slog.String("user_id", report.UserID),
		slog.String("status", string(report.Status)),
		slog.String("order_id", report.OrderID),
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
}

// Get returns a stored report, falling back to the archive.
func (s *TradeService) Get(ctx context.Context, requestID string) (domain.TradeReport, error) {
	if s.deps.Executions == nil {
		return domain.TradeReport{}, domain.ErrNotFound
	}
	r, err := s.deps.Executions.GetByID(ctx, requestID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.deps.Loader == nil {
		return domain.TradeReport{}, fmt.Errorf("trade_service: get %s: %w", requestID, err)
	}
	r, lerr := s.deps.Loader.LoadReport(ctx, requestID)
	if lerr != nil {
		return domain.TradeReport{}, fmt.Errorf("trade_service: get %s: %w", requestID, err)
	}
	return r, nil
}

// List returns a user's reports, newest first.
func (s *TradeService) List(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeReport, error) {
	if s.deps.Executions == nil {
		return nil, nil
	}
	reports, err := s.deps.Executions.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list %s: %w", userID, err)
	}
	return reports, nil
}

// progressRecorder stamps, records and fans out progress events: to the
// caller's sink and to the bus channel of the request.
type progressRecorder struct {
	svc       *TradeService
	requestID string
	next      domain.ProgressSink
	events    []domain.ProgressEvent
}

func (p *progressRecorder) emit(ctx context.Context, stage, msg string) {
	p.Progress(ctx, domain.ProgressEvent{Stage: stage, Message: msg})
}

// Progress implements domain.ProgressSink.
func (p *progressRecorder) Progress(ctx context.Context, ev domain.ProgressEvent) {
	if ev.RequestID == "" {
		ev.RequestID = p.requestID
	}
	if ev.Time.IsZero() {
		ev.Time = p.svc.now().UTC()
	}
	p.events = append(p.events, ev)

	if p.next != nil {
		p.next.Progress(ctx, ev)
	}
	if bus := p.svc.deps.Bus; bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := bus.Publish(context.WithoutCancel(ctx), ProgressChannel(p.requestID), payload); err != nil {
			p.svc.logger.DebugContext(ctx, "trade_service: publish progress failed",
				slog.String("request_id", p.requestID),
				slog.String("error", err.Error()),
			)
		}
	}
}

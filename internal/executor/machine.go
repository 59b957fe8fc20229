// Package executor runs the order execution state machine: build and sign
// once, submit, classify the response and, for balance or allowance
// rejections, remediate and resubmit.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// State is a node of the execution state machine.
type State string

const (
	StateBuild       State = "BUILD"
	StateSubmit      State = "SUBMIT"
	StateSuccess     State = "SUCCESS"
	StateRecoverable State = "RECOVERABLE_FAILURE"
	StateTerminal    State = "TERMINAL_FAILURE"
	StateRemediate   State = "REMEDIATE"
)

// transitions lists the legal successors of each state. SUCCESS and
// TERMINAL_FAILURE have none.
var transitions = map[State][]State{
	StateBuild:       {StateSubmit, StateTerminal},
	StateSubmit:      {StateSuccess, StateRecoverable, StateTerminal},
	StateRecoverable: {StateRemediate, StateTerminal},
	StateRemediate:   {StateRemediate, StateSubmit, StateTerminal},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// mustTransition panics on an illegal transition; reaching one is a bug in
// Run, not a runtime condition.
func mustTransition(from, to State) State {
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("executor: illegal transition %s -> %s", from, to))
	}
	return to
}

// Remediation steps, applied in this order and each at most once.
const (
	StepDeposit  = "deposit"
	StepApproval = "approval"
)

// Builder signs a finalized order.
type Builder interface {
	Build(ctx context.Context, order domain.FinalizedOrder) (domain.SignedOrder, error)
}

// Gateway submits signed orders to the exchange.
type Gateway interface {
	Submit(ctx context.Context, order domain.SignedOrder, orderType domain.OrderType) (*domain.SubmitResult, error)
}

// Depositor moves collateral into the trading wallet.
type Depositor interface {
	Deposit(ctx context.Context, amount decimal.Decimal) (txHash string, err error)
}

// Approver sets exchange allowances for the trading wallet.
type Approver interface {
	Approve(ctx context.Context) error
}

// Recorder receives execution counters. *metrics.Metrics implements it.
type Recorder interface {
	Submission(c domain.Classification)
	Remediation(step string, ok bool)
}

// Config bounds the machine.
type Config struct {
	MaxSubmissions int
	SubmitTimeout  time.Duration
}

// Outcome is the result of one Run.
type Outcome struct {
	State        State
	Signed       domain.SignedOrder
	Result       *domain.SubmitResult
	Attempts     []domain.ExecutionAttempt
	Remediations []string
}

// FillState returns the success sub-state, or "" when the run failed.
func (o Outcome) FillState() string {
	if o.State != StateSuccess || o.Result == nil {
		return ""
	}
	return o.Result.FillState()
}

// Machine executes finalized orders. It is safe for concurrent use; each Run
// keeps its own state.
type Machine struct {
	builder   Builder
	gateway   Gateway
	depositor Depositor
	approver  Approver
	policy    DepositPolicy
	recorder  Recorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewMachine creates a Machine. recorder may be nil.
func NewMachine(
	builder Builder,
	gateway Gateway,
	depositor Depositor,
	approver Approver,
	policy DepositPolicy,
	recorder Recorder,
	cfg Config,
	logger *slog.Logger,
) *Machine {
	if cfg.MaxSubmissions <= 0 || cfg.MaxSubmissions > 3 {
		cfg.MaxSubmissions = 3
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	return &Machine{
		builder:   builder,
		gateway:   gateway,
		depositor: depositor,
		approver:  approver,
		policy:    policy,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
		now:       time.Now,
	}
}

// run carries the per-request state of one execution.
type run struct {
	m     *Machine
	order domain.FinalizedOrder
	sink  domain.ProgressSink
	reqID string
	state State
	out   Outcome
	plan  []string
}

func (r *run) to(next State) {
	r.state = mustTransition(r.state, next)
	r.out.State = r.state
}

func (r *run) progress(ctx context.Context, stage, msg string) {
	r.sink.Progress(ctx, domain.ProgressEvent{RequestID: r.reqID, Stage: stage, Message: msg, Time: r.m.now()})
}

// Run executes order. requestID tags progress events. On failure the
// returned error is a *domain.ExchangeError, or the build error.
func (m *Machine) Run(ctx context.Context, requestID string, order domain.FinalizedOrder, sink domain.ProgressSink) (Outcome, error) {
	if sink == nil {
		sink = domain.DiscardProgress
	}
	r := &run{
		m:     m,
		order: order,
		sink:  sink,
		reqID: requestID,
		state: StateBuild,
		out:   Outcome{State: StateBuild},
		plan:  []string{StepDeposit, StepApproval},
	}

	r.progress(ctx, domain.StageBuild, "Signing order")
	signed, err := m.builder.Build(ctx, order)
	if err != nil {
		r.to(StateTerminal)
		return r.out, fmt.Errorf("executor: build: %w", err)
	}
	r.out.Signed = signed

	for {
		r.to(StateSubmit)
		class, reason := r.submit(ctx, signed)

		switch class {
		case domain.ClassSuccess:
			r.to(StateSuccess)
			m.logger.InfoContext(ctx, "executor: order accepted",
				slog.String("request_id", requestID),
				slog.String("order_id", r.out.Result.OrderID),
				slog.String("status", r.out.Result.Status),
				slog.Int("attempts", len(r.out.Attempts)),
			)
			return r.out, nil

		case domain.ClassTerminal:
			r.to(StateTerminal)
			return r.out, r.fail(reason, false)
		}

		r.to(StateRecoverable)
		if len(r.out.Attempts) >= m.cfg.MaxSubmissions {
			r.to(StateTerminal)
			return r.out, r.fail(reason, true)
		}

		r.to(StateRemediate)
		if !r.remediate(ctx) {
			r.to(StateTerminal)
			return r.out, r.fail(reason, true)
		}
	}
}

// submit sends the order once. The call is detached from request
// cancellation so an in-flight order is never abandoned halfway.
func (r *run) submit(ctx context.Context, signed domain.SignedOrder) (domain.Classification, string) {
	n := len(r.out.Attempts) + 1
	r.progress(ctx, domain.StageSubmit, fmt.Sprintf("Submitting order (attempt %d)", n))

	subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.m.cfg.SubmitTimeout)
	res, err := r.m.gateway.Submit(subCtx, signed, r.order.Type())
	cancel()

	class, reason := Classify(res, err)
	attempt := domain.ExecutionAttempt{
		Number:         n,
		Order:          r.order,
		Result:         res,
		Classification: class,
		Reason:         reason,
		At:             r.m.now(),
	}
	if err != nil {
		attempt.Err = err.Error()
	}
	r.out.Attempts = append(r.out.Attempts, attempt)
	r.out.Result = res
	if r.m.recorder != nil {
		r.m.recorder.Submission(class)
	}

	if class != domain.ClassSuccess {
		r.m.logger.WarnContext(ctx, "executor: submission rejected",
			slog.String("request_id", r.reqID),
			slog.Int("attempt", n),
			slog.String("classification", string(class)),
			slog.String("reason", reason),
		)
	}
	return class, reason
}

// remediate works through the remaining plan until one step succeeds. A step
// that fails moves on to the next without resubmitting.
func (r *run) remediate(ctx context.Context) bool {
	for len(r.plan) > 0 {
		step := r.plan[0]
		r.plan = r.plan[1:]
		r.out.Remediations = append(r.out.Remediations, step)

		err := r.apply(ctx, step)
		if r.m.recorder != nil {
			r.m.recorder.Remediation(step, err == nil)
		}
		if err == nil {
			return true
		}

		r.m.logger.WarnContext(ctx, "executor: remediation failed",
			slog.String("request_id", r.reqID),
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		if len(r.plan) > 0 {
			r.to(StateRemediate)
		}
	}
	return false
}

func (r *run) apply(ctx context.Context, step string) error {
	ctx = context.WithoutCancel(ctx)
	switch step {
	case StepDeposit:
		amount, err := r.m.policy.Amount(ctx, r.order)
		if err != nil {
			return err
		}
		r.progress(ctx, domain.StageRemediate, fmt.Sprintf("Depositing $%s to cover the order", amount.StringFixed(2)))
		tx, err := r.m.depositor.Deposit(ctx, amount)
		if err != nil {
			return err
		}
		r.m.logger.InfoContext(ctx, "executor: deposit submitted",
			slog.String("request_id", r.reqID),
			slog.String("amount", amount.String()),
			slog.String("tx_hash", tx),
		)
		return nil
	case StepApproval:
		r.progress(ctx, domain.StageRemediate, "Setting exchange approvals")
		return r.m.approver.Approve(ctx)
	default:
		return fmt.Errorf("executor: unknown remediation step %q", step)
	}
}

func (r *run) fail(reason string, recoverable bool) error {
	return &domain.ExchangeError{
		Message:     reason,
		Recoverable: recoverable,
		Attempts:    len(r.out.Attempts),
		Remediation: r.out.Remediations,
		Order:       r.order,
	}
}

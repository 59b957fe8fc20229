package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

type fakeBuilder struct {
	err   error
	calls int
}

func (f *fakeBuilder) Build(_ context.Context, o domain.FinalizedOrder) (domain.SignedOrder, error) {
	f.calls++
	if f.err != nil {
		return domain.SignedOrder{}, f.err
	}
	return domain.SignedOrder{Salt: "1", TokenID: o.TokenID, Side: o.Side}, nil
}

type response struct {
	res *domain.SubmitResult
	err error
}

// scriptedGateway replays responses in order and repeats the last one.
type scriptedGateway struct {
	script []response
	calls  int
	types  []domain.OrderType
	ctxErr []error
}

func (g *scriptedGateway) Submit(ctx context.Context, _ domain.SignedOrder, t domain.OrderType) (*domain.SubmitResult, error) {
	i := g.calls
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	g.calls++
	g.types = append(g.types, t)
	g.ctxErr = append(g.ctxErr, ctx.Err())
	return g.script[i].res, g.script[i].err
}

type fakeDepositor struct {
	err     error
	amounts []decimal.Decimal
}

func (f *fakeDepositor) Deposit(_ context.Context, amount decimal.Decimal) (string, error) {
	f.amounts = append(f.amounts, amount)
	return "0xdeposit", f.err
}

type fakeApprover struct {
	err   error
	calls int
}

func (f *fakeApprover) Approve(context.Context) error {
	f.calls++
	return f.err
}

type countingRecorder struct {
	submissions  map[domain.Classification]int
	remediations map[string]bool
}

func newRecorder() *countingRecorder {
	return &countingRecorder{submissions: map[domain.Classification]int{}, remediations: map[string]bool{}}
}

func (c *countingRecorder) Submission(cl domain.Classification) { c.submissions[cl]++ }
func (c *countingRecorder) Remediation(step string, ok bool)    { c.remediations[step] = ok }

var (
	accepted  = response{res: &domain.SubmitResult{OrderID: "0xorder", Status: "live"}}
	noBalance = response{res: &domain.SubmitResult{Error: "not enough balance / allowance"}}
	rejected  = response{res: &domain.SubmitResult{Error: "invalid tick size"}}
)

type harness struct {
	builder   *fakeBuilder
	gateway   *scriptedGateway
	depositor *fakeDepositor
	approver  *fakeApprover
	recorder  *countingRecorder
	machine   *Machine
	events    []domain.ProgressEvent
}

func newHarness(script ...response) *harness {
	h := &harness{
		builder:   &fakeBuilder{},
		gateway:   &scriptedGateway{script: script},
		depositor: &fakeDepositor{},
		approver:  &fakeApprover{},
		recorder:  newRecorder(),
	}
	h.machine = NewMachine(h.builder, h.gateway, h.depositor, h.approver,
		NotionalPlusBuffer{Buffer: decimal.NewFromInt(1)}, h.recorder,
		Config{MaxSubmissions: 3, SubmitTimeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) run(t *testing.T) (Outcome, error) {
	t.Helper()
	sink := domain.ProgressFunc(func(_ context.Context, ev domain.ProgressEvent) { h.events = append(h.events, ev) })
	return h.machine.Run(context.Background(), "req-1", testOrder(), sink)
}

func testOrder() domain.FinalizedOrder {
	return domain.FinalizedOrder{
		TokenID:  "abc123",
		Side:     domain.SideBuy,
		Kind:     domain.OrderKindLimit,
		Price:    decimal.RequireFromString("0.5"),
		Size:     decimal.NewFromInt(100),
		Notional: decimal.NewFromInt(50),
	}
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	h := newHarness(accepted)
	out, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, out.State)
	assert.Len(t, out.Attempts, 1)
	assert.Equal(t, domain.FillPending, out.FillState())
	assert.Equal(t, 1, h.builder.calls)
	assert.Equal(t, []domain.OrderType{domain.OrderTypeGTC}, h.gateway.types)
	assert.Empty(t, h.depositor.amounts)
	assert.Equal(t, 1, h.recorder.submissions[domain.ClassSuccess])

	require.GreaterOrEqual(t, len(h.events), 2)
	assert.Equal(t, domain.StageBuild, h.events[0].Stage)
	assert.Equal(t, domain.StageSubmit, h.events[1].Stage)
	assert.Equal(t, "req-1", h.events[1].RequestID)
}

func TestRunTerminalRejection(t *testing.T) {
	h := newHarness(rejected)
	out, err := h.run(t)

	var exErr *domain.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.False(t, exErr.Recoverable)
	assert.Equal(t, 1, exErr.Attempts)
	assert.Equal(t, StateTerminal, out.State)
	assert.Empty(t, out.Remediations)
	assert.Empty(t, h.depositor.amounts)
	assert.Zero(t, h.approver.calls)
}

func TestRunDepositThenApprovalThenTerminal(t *testing.T) {
	h := newHarness(noBalance)
	out, err := h.run(t)

	var exErr *domain.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.True(t, exErr.Recoverable)
	assert.Equal(t, 3, exErr.Attempts)
	assert.Equal(t, []string{StepDeposit, StepApproval}, exErr.Remediation)

	assert.Equal(t, 3, h.gateway.calls)
	require.Len(t, h.depositor.amounts, 1)
	assert.Equal(t, "51", h.depositor.amounts[0].String())
	assert.Equal(t, 1, h.approver.calls)
	assert.Equal(t, StateTerminal, out.State)
	assert.Equal(t, 3, h.recorder.submissions[domain.ClassRecoverable])
}

func TestRunDepositFixesBalance(t *testing.T) {
	h := newHarness(noBalance, accepted)
	out, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, out.State)
	assert.Len(t, out.Attempts, 2)
	assert.Equal(t, []string{StepDeposit}, out.Remediations)
	assert.Zero(t, h.approver.calls)
	assert.True(t, h.recorder.remediations[StepDeposit])
}

func TestRunFailedDepositAdvancesWithoutResubmitting(t *testing.T) {
	h := newHarness(noBalance, accepted)
	h.depositor.err = errors.New("relayer down")

	out, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, h.gateway.calls)
	assert.Equal(t, 1, h.approver.calls)
	assert.Equal(t, []string{StepDeposit, StepApproval}, out.Remediations)
	assert.False(t, h.recorder.remediations[StepDeposit])
}

func TestRunAllRemediationsFail(t *testing.T) {
	h := newHarness(noBalance)
	h.depositor.err = errors.New("no funds")
	h.approver.err = errors.New("no gas")

	_, err := h.run(t)
	var exErr *domain.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, 1, exErr.Attempts)
	assert.Equal(t, 1, h.gateway.calls)
}

func TestRunBuildFailure(t *testing.T) {
	h := newHarness(accepted)
	h.builder.err = domain.ErrSigningFailed

	out, err := h.run(t)
	require.ErrorIs(t, err, domain.ErrSigningFailed)
	assert.Equal(t, StateTerminal, out.State)
	assert.Zero(t, h.gateway.calls)
}

func TestSubmitIgnoresRequestCancellation(t *testing.T) {
	h := newHarness(accepted)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.machine.Run(ctx, "req-2", testOrder(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, out.State)
	assert.NoError(t, h.gateway.ctxErr[0])
}

func TestMarketOrderSubmitsFOK(t *testing.T) {
	h := newHarness(accepted)
	o := testOrder()
	o.Kind = domain.OrderKindMarket
	_, err := h.machine.Run(context.Background(), "req-3", o, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderType{domain.OrderTypeFOK}, h.gateway.types)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StateRemediate, StateSubmit))
	assert.True(t, CanTransition(StateRecoverable, StateRemediate))
	assert.False(t, CanTransition(StateSuccess, StateSubmit))
	assert.False(t, CanTransition(StateBuild, StateRemediate))
	assert.False(t, CanTransition(StateTerminal, StateSubmit))

	assert.Panics(t, func() { mustTransition(StateSubmit, StateRemediate) })
	assert.NotPanics(t, func() { mustTransition(StateSubmit, StateRecoverable) })
}

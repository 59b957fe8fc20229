package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// TradeService defines the methods that the trade handler requires from the
// service layer.
type TradeService interface {
	Execute(ctx context.Context, req domain.TradeRequest, sink domain.ProgressSink) domain.TradeReport
	Get(ctx context.Context, requestID string) (domain.TradeReport, error)
	List(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeReport, error)
}

// IdempotencyGuard claims client idempotency keys. *executor.Dedup
// implements it.
type IdempotencyGuard interface {
	Claim(key, requestID string) (string, bool)
	Release(key string)
}

// TradeHandler serves the natural-language trade endpoints.
type TradeHandler struct {
	trades TradeService
	dedup  IdempotencyGuard
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler. dedup may be nil, in which case
// Idempotency-Key headers are ignored.
func NewTradeHandler(trades TradeService, dedup IdempotencyGuard, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		dedup:  dedup,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

type submitTradeRequest struct {
	RequestID string         `json:"request_id"`
	UserID    string         `json:"user_id"`
	Text      string         `json:"text"`
	Extracted map[string]any `json:"extracted,omitempty"`
}

type listTradesResponse struct {
	Trades []domain.TradeReport `json:"trades"`
}

// SubmitTrade parses and executes one natural-language order.
// POST /api/trades
//
// A client may pick request_id itself so it can open the progress stream
// before the order runs. Requests repeating an Idempotency-Key return the
// first request's report instead of placing another order.
func (h *TradeHandler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var body submitTradeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	if body.Text == "" && len(body.Extracted) == 0 {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if body.RequestID == "" {
		body.RequestID = uuid.NewString()
	} else if _, err := uuid.Parse(body.RequestID); err != nil {
		writeError(w, http.StatusBadRequest, "request_id must be a uuid")
		return
	}

	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && h.dedup != nil {
		scoped := body.UserID + ":" + key
		if first, dup := h.dedup.Claim(scoped, body.RequestID); dup {
			h.replay(w, r, first)
			return
		}
	}

	w.Header().Set("X-Request-ID", body.RequestID)
	report := h.trades.Execute(r.Context(), domain.TradeRequest{
		RequestID: body.RequestID,
		UserID:    body.UserID,
		Text:      body.Text,
		Extracted: body.Extracted,
	}, domain.DiscardProgress)

	status := http.StatusCreated
	if report.Status != domain.TradeStatusSuccess {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

// replay answers a repeated idempotency key with the report of the request
// that first claimed it.
func (h *TradeHandler) replay(w http.ResponseWriter, r *http.Request, requestID string) {
	w.Header().Set("X-Request-ID", requestID)
	report, err := h.trades.Get(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":      "request already in progress",
				"request_id": requestID,
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: replay trade failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetTrade returns the report of one request.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	report, err := h.trades.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.String("request_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListTrades returns a user's reports, newest first.
// GET /api/trades?user_id=alice&limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	trades, err := h.trades.List(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeReport{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

package services

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imramesh222/ecommerce/models"
)

// ChargeRequest is a single-shot charge for one checkout attempt. The
// gateway is called at most once per attempt; a retry is a new attempt.
type ChargeRequest struct {
	CheckoutID uuid.UUID
	OwnerID    string
	Amount     decimal.Decimal
	Currency   string
	Details    models.PaymentDetails
}

// ChargeResult reports the gateway decision. Outcome is always one of
// approved, declined or error.
type ChargeResult struct {
	Outcome models.PaymentOutcome
	Ref     string
	Reason  string
}

// PaymentGateway authorizes and captures a payment in a single call.
// Transport failures may surface as a Go error or as an error outcome;
// callers treat both the same way.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// SimulatorConfig tunes the simulated gateway. Card tokens listed in
// DeclineTokens or ErrorTokens force that outcome; DeclineOver, when
// positive, declines any charge above the threshold. DefaultOutcome is
// the answer when no rule matches; empty means approve.
type SimulatorConfig struct {
	DefaultOutcome models.PaymentOutcome
	DeclineTokens  []string
	ErrorTokens    []string
	DeclineOver    decimal.Decimal
}

// SimulatedGateway is the deterministic in-process gateway used outside
// production. It counts charges so tests can assert an attempt was
// charged exactly once.
type SimulatedGateway struct {
	cfg     SimulatorConfig
	decline map[string]struct{}
	errs    map[string]struct{}

	mu      sync.Mutex
	charges int
}

func NewSimulatedGateway(cfg SimulatorConfig) *SimulatedGateway {
	g := &SimulatedGateway{
		cfg:     cfg,
		decline: make(map[string]struct{}),
		errs:    make(map[string]struct{}),
	}
	for _, t := range cfg.DeclineTokens {
		g.decline[normalizeToken(t)] = struct{}{}
	}
	for _, t := range cfg.ErrorTokens {
		g.errs[normalizeToken(t)] = struct{}{}
	}
	return g
}

func normalizeToken(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}

	g.mu.Lock()
	g.charges++
	g.mu.Unlock()

	token := normalizeToken(req.Details.CardToken)
	if _, ok := g.errs[token]; ok {
		return ChargeResult{Outcome: models.PaymentFailed, Reason: "gateway unavailable"}, nil
	}
	if _, ok := g.decline[token]; ok {
		return ChargeResult{Outcome: models.PaymentDeclined, Reason: "card declined"}, nil
	}
	if g.cfg.DeclineOver.IsPositive() && req.Amount.GreaterThan(g.cfg.DeclineOver) {
		return ChargeResult{Outcome: models.PaymentDeclined, Reason: "amount over limit"}, nil
	}

	switch g.cfg.DefaultOutcome {
	case models.PaymentDeclined:
		return ChargeResult{Outcome: models.PaymentDeclined, Reason: "declined by configuration"}, nil
	case models.PaymentFailed:
		return ChargeResult{Outcome: models.PaymentFailed, Reason: "failing by configuration"}, nil
	}

	ref := "sim_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return ChargeResult{Outcome: models.PaymentApproved, Ref: ref}, nil
}

// Charges reports how many times Charge was called.
func (g *SimulatedGateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

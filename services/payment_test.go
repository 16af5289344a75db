package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/services"
)

func TestService_SimulatedGateway_Outcomes(t *testing.T) {
	gateway := services.NewSimulatedGateway(services.SimulatorConfig{
		DeclineTokens: []string{"tok_declined", "CARD_NO_FUNDS"},
		ErrorTokens:   []string{"tok_boom"},
		DeclineOver:   decimal.RequireFromString("500.00"),
	})

	tests := []struct {
		name    string
		token   string
		amount  string
		outcome models.PaymentOutcome
	}{
		{"approves by default", "tok_visa", "25.00", models.PaymentApproved},
		{"declines listed token", "tok_declined", "10.00", models.PaymentDeclined},
		{"token match ignores case", "card_no_funds", "10.00", models.PaymentDeclined},
		{"errors listed token", "tok_boom", "10.00", models.PaymentFailed},
		{"declines over threshold", "tok_visa", "500.01", models.PaymentDeclined},
		{"approves at threshold", "tok_visa", "500.00", models.PaymentApproved},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := gateway.Charge(context.Background(), services.ChargeRequest{
				CheckoutID: uuid.New(),
				OwnerID:    "alice",
				Amount:     decimal.RequireFromString(tc.amount),
				Currency:   "USD",
				Details:    models.PaymentDetails{Method: "card", CardToken: tc.token},
			})
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, result.Outcome)
			if tc.outcome == models.PaymentApproved {
				assert.Regexp(t, `^sim_[0-9a-f]{12}$`, result.Ref)
			} else {
				assert.Empty(t, result.Ref)
				assert.NotEmpty(t, result.Reason)
			}
		})
	}

	assert.Equal(t, len(tests), gateway.Charges())
}

func TestService_SimulatedGateway_CanceledContext(t *testing.T) {
	gateway := services.NewSimulatedGateway(services.SimulatorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gateway.Charge(ctx, services.ChargeRequest{
		CheckoutID: uuid.New(),
		Amount:     decimal.RequireFromString("5.00"),
		Currency:   "USD",
	})
	require.Error(t, err)
	assert.Equal(t, 0, gateway.Charges(), "a canceled call never reaches the processor")
}

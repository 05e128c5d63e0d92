package billing

import (
	"context"
	"fmt"
)

// UsageRecord is one immutable ledger entry for a billed exchange.
type UsageRecord struct {
	UserID      string
	ModelID     string
	ModelLabel  string
	TokensSpent int
	CostUSD     *float64
}

// Ledger is the balance/ledger surface the coordinator needs; satisfied by
// user.Store.
type Ledger interface {
	DeductTokens(ctx context.Context, userID string, tokens int) error
	RecordUsage(ctx context.Context, record UsageRecord) error
}

// Coordinator applies the billing side effects of one completed exchange.
type Coordinator struct {
	ledger          Ledger
	usdToTokensRate float64
}

func NewCoordinator(ledger Ledger, usdToTokensRate float64) Coordinator {
	return Coordinator{ledger: ledger, usdToTokensRate: usdToTokensRate}
}

// Settle deducts tokens for a completed paid exchange and appends one ledger
// entry. A nil or non-positive cost settles to a no-op. Callers are expected
// to have already excluded free models and anonymous users.
func (c Coordinator) Settle(ctx context.Context, userID, modelID, modelLabel string, costUSD *float64) error {
	if costUSD == nil || *costUSD <= 0 {
		return nil
	}

	tokens := TokensToDeduct(*costUSD, c.usdToTokensRate)
	if tokens <= 0 {
		return nil
	}

	if err := c.ledger.DeductTokens(ctx, userID, tokens); err != nil {
		return fmt.Errorf("deduct tokens: %w", err)
	}
	if err := c.ledger.RecordUsage(ctx, UsageRecord{
		UserID:      userID,
		ModelID:     modelID,
		ModelLabel:  modelLabel,
		TokensSpent: tokens,
		CostUSD:     costUSD,
	}); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

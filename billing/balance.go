package billing

import "context"

// =============================================================================
// BALANCE - Aggregate for a (school, season) pair
// =============================================================================

// Balance is what a pair was expected to collect against what it collected
// or forgave.
type Balance struct {
	SchoolID      SchoolID
	SeasonID      SeasonID
	TotalDebt     Money
	TotalPaid     Money
	TotalForgiven Money
	Periods       int
}

// Outstanding is TotalDebt - TotalPaid - TotalForgiven. Negative means the
// pair was overpaid.
func (b Balance) Outstanding() Money {
	return b.TotalDebt.Sub(b.TotalPaid).Sub(b.TotalForgiven)
}

// AggregateBalance sums the pair's periods and transactions. Rows from any
// other school or season are ignored, so callers may pass a broader slice.
func AggregateBalance(schoolID SchoolID, seasonID SeasonID, periods []Period, txs []Transaction) Balance {
	b := Balance{
		SchoolID:      schoolID,
		SeasonID:      seasonID,
		TotalDebt:     ZeroMoney(),
		TotalPaid:     ZeroMoney(),
		TotalForgiven: ZeroMoney(),
	}
	for _, p := range periods {
		if p.SchoolID != schoolID || p.SeasonID != seasonID {
			continue
		}
		b.TotalDebt = b.TotalDebt.Add(p.ExpectedAmount)
		b.Periods++
	}
	for _, tx := range txs {
		if tx.SchoolID != schoolID || tx.SeasonID != seasonID {
			continue
		}
		switch tx.Type {
		case TxPayment:
			b.TotalPaid = b.TotalPaid.Add(tx.Amount)
		case TxWriteOff:
			b.TotalForgiven = b.TotalForgiven.Add(tx.Amount)
		}
	}
	return b
}

// Balance loads the pair's periods and transactions and aggregates them.
func (e *Engine) Balance(ctx context.Context, schoolID SchoolID, seasonID SeasonID) (Balance, error) {
	return balanceOf(ctx, e.Store, schoolID, seasonID)
}

func balanceOf(ctx context.Context, s Store, schoolID SchoolID, seasonID SeasonID) (Balance, error) {
	periods, err := s.ListPeriods(ctx, schoolID, seasonID)
	if err != nil {
		return Balance{}, err
	}
	txs, err := s.ListTransactions(ctx, TransactionFilter{SchoolID: schoolID, SeasonID: seasonID})
	if err != nil {
		return Balance{}, err
	}
	return AggregateBalance(schoolID, seasonID, periods, txs), nil
}

/*
closure.go - Season closure with a balancing write-off

PURPOSE:
  Closes a (school, season) pair for good. Whatever the pair still owes at
  that moment is forgiven with exactly one write_off transaction, so the
  closed pair's balance is zero.

STATE MACHINE:
  Open -> Closed. Closed is terminal. Closing twice is an error
  (AlreadyClosed) so double submissions are visible to the caller.

ATOMICITY:
  The write-off and the closure record are written in one store transaction.
  Either both exist afterwards or neither does.

AFTER CLOSURE:
  EnsurePeriodsUpTo and RecordTransaction on the pair fail with SeasonClosed.
*/
package billing

import (
	"context"

	"go.uber.org/zap"
)

// DefaultClosureReason annotates the write-off when the caller gives none.
const DefaultClosureReason = "season closed: outstanding balance written off"

type CloseInput struct {
	Reason   string
	ClosedBy string
}

// CloseSeason closes the pair and writes off its positive outstanding balance.
func (e *Engine) CloseSeason(ctx context.Context, school School, season Season, in CloseInput) (SeasonClosure, error) {
	unlock, err := e.lockPair(ctx, school.ID, season.ID)
	if err != nil {
		return SeasonClosure{}, err
	}
	defer unlock()

	reason := in.Reason
	if reason == "" {
		reason = DefaultClosureReason
	}
	now := e.Now().UTC()

	var closure SeasonClosure
	var writeOff *Transaction
	err = e.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetClosure(ctx, school.ID, season.ID)
		if err != nil {
			return err
		}
		if err := ValidateSeasonTransition(StateOf(existing), SeasonClosed); err != nil {
			if existing != nil {
				return &AlreadyClosedError{Closure: *existing}
			}
			return err
		}

		balance, err := balanceOf(ctx, s, school.ID, season.ID)
		if err != nil {
			return err
		}
		outstanding := balance.Outstanding()

		closure = SeasonClosure{
			SchoolID: school.ID,
			SeasonID: season.ID,
			ClosedAt: now,
			Reason:   reason,
			ClosedBy: in.ClosedBy,
			Balance:  outstanding,
		}
		if outstanding.IsPositive() {
			tx := Transaction{
				ID:             TransactionID(e.NewID()),
				SchoolID:       school.ID,
				SeasonID:       season.ID,
				Amount:         outstanding,
				Type:           TxWriteOff,
				Date:           DateOf(now),
				Note:           reason,
				IdempotencyKey: "closure:" + string(school.ID) + ":" + string(season.ID),
				CreatedBy:      in.ClosedBy,
				CreatedAt:      now,
			}
			if err := s.AppendTransaction(ctx, tx); err != nil {
				return err
			}
			closure.WriteOffID = tx.ID
			writeOff = &tx
		}
		return s.InsertClosure(ctx, closure)
	})
	if err != nil {
		return SeasonClosure{}, err
	}

	forgiven := ZeroMoney()
	if writeOff != nil {
		forgiven = writeOff.Amount
	}
	e.recorder().SeasonClosed(forgiven)
	e.log().Info("season closed",
		zap.String("school_id", string(school.ID)),
		zap.String("season_id", string(season.ID)),
		zap.String("balance", closure.Balance.String()),
		zap.String("write_off", forgiven.String()),
	)
	return closure, nil
}

// Closure returns the pair's closure record, or nil while it is open.
func (e *Engine) Closure(ctx context.Context, schoolID SchoolID, seasonID SeasonID) (*SeasonClosure, error) {
	return e.Store.GetClosure(ctx, schoolID, seasonID)
}

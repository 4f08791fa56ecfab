package billing

import (
	"context"

	"go.uber.org/zap"
)

// TransactionInput describes an already-settled transaction to record.
// Date is required: the engine does not assume "today".
type TransactionInput struct {
	StudentID      StudentID
	PeriodID       PeriodID
	Amount         Money
	Type           TransactionType
	Date           Date
	Note           string
	IdempotencyKey string
	CreatedBy      string
}

func (in TransactionInput) validate() error {
	if !in.Amount.IsPositive() {
		return &TransactionError{Field: "amount", Message: "must be positive"}
	}
	if !in.Type.Valid() {
		return &TransactionError{Field: "type", Message: "must be payment or write_off"}
	}
	if in.Date.IsZero() {
		return &TransactionError{Field: "date", Message: "is required"}
	}
	return nil
}

// RecordTransaction appends a payment or write-off for the pair.
//
// A PeriodID must name a period of this pair; the row is stamped with the
// pair's season either way so aggregate balances see it. Recording a payment
// for a student also marks their last payment status as paid.
func (e *Engine) RecordTransaction(ctx context.Context, school School, season Season, in TransactionInput) (Transaction, error) {
	if err := in.validate(); err != nil {
		return Transaction{}, err
	}

	unlock, err := e.lockPair(ctx, school.ID, season.ID)
	if err != nil {
		return Transaction{}, err
	}
	defer unlock()

	tx := Transaction{
		ID:             TransactionID(e.NewID()),
		SchoolID:       school.ID,
		SeasonID:       season.ID,
		PeriodID:       in.PeriodID,
		StudentID:      in.StudentID,
		Amount:         in.Amount,
		Type:           in.Type,
		Date:           in.Date,
		Note:           in.Note,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      e.Now().UTC(),
	}

	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := ensureOpen(ctx, s, school.ID, season.ID); err != nil {
			return err
		}
		if in.PeriodID != "" {
			p, err := s.GetPeriod(ctx, in.PeriodID)
			if err != nil {
				return err
			}
			if p.SchoolID != school.ID || p.SeasonID != season.ID {
				return NotFound("period", in.PeriodID)
			}
		}
		if in.StudentID != "" {
			st, err := s.GetStudent(ctx, in.StudentID)
			if err != nil {
				return err
			}
			if st.SchoolID != school.ID {
				return NotFound("student", in.StudentID)
			}
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		if in.Type == TxPayment && in.StudentID != "" {
			return s.SetLastPaymentStatus(ctx, in.StudentID, LastPaymentPaid)
		}
		return nil
	})
	if err != nil {
		e.log().Debug("transaction rejected",
			zap.String("school_id", string(school.ID)),
			zap.String("season_id", string(season.ID)),
			zap.Error(err),
		)
		return Transaction{}, err
	}

	e.recorder().TransactionRecorded(tx.Type, tx.Amount)
	e.log().Info("transaction recorded",
		zap.String("school_id", string(school.ID)),
		zap.String("season_id", string(season.ID)),
		zap.String("tx_id", string(tx.ID)),
		zap.String("type", string(tx.Type)),
		zap.String("amount", tx.Amount.String()),
	)
	return tx, nil
}

// ClaimPayment records that a student's family reports a payment that has
// not been confirmed. It changes status only; no transaction is written.
func (e *Engine) ClaimPayment(ctx context.Context, studentID StudentID) (Student, error) {
	st, err := e.Store.GetStudent(ctx, studentID)
	if err != nil {
		return Student{}, err
	}
	if err := e.Store.SetLastPaymentStatus(ctx, studentID, LastPaymentClaimed); err != nil {
		return Student{}, err
	}
	st.LastPaymentStatus = LastPaymentClaimed
	return st, nil
}

// Transactions lists the pair's transactions, optionally narrowed to one
// student and to the candidates of one period.
func (e *Engine) Transactions(ctx context.Context, schoolID SchoolID, seasonID SeasonID, studentID StudentID, period *Period) ([]Transaction, error) {
	filter := TransactionFilter{SchoolID: schoolID, SeasonID: seasonID, StudentID: studentID}
	if period == nil {
		return e.Store.ListTransactions(ctx, filter)
	}
	txs, err := e.Store.ListTransactions(ctx, filter.ForPeriods([]Period{*period}))
	if err != nil {
		return nil, err
	}
	return MatchPeriod(txs, *period), nil
}

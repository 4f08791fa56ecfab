package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/billing"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveSchool(ctx, billing.School{
		ID: "school-1", Name: "Music", CycleStartDate: billing.NewDate(2026, 1, 5), DefaultPrice: billing.NewMoney(1000),
	}))
	require.NoError(t, m.SaveSeason(ctx, billing.Season{ID: "season-1", Name: "2026", IsActive: true}))
	require.NoError(t, m.SaveStudent(ctx, billing.Student{
		ID: "ana", SchoolID: "school-1", Name: "Ana", Status: billing.StudentActive, PaymentStatus: billing.PlanNormal,
	}))
	return m
}

func period(number int) billing.Period {
	w := billing.PeriodWindow(billing.NewDate(2026, 1, 5), number)
	return billing.Period{
		ID:             billing.PeriodID("p" + string(rune('0'+number))),
		SchoolID:       "school-1",
		SeasonID:       "season-1",
		Number:         number,
		Start:          w.Start,
		End:            w.End,
		ExpectedAmount: billing.NewMoney(1000),
	}
}

func TestMemory_InsertPeriods_RejectsDuplicateNumber(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	require.NoError(t, m.InsertPeriods(ctx, []billing.Period{period(0)}))

	dup := period(0)
	dup.ID = "other"
	err := m.InsertPeriods(ctx, []billing.Period{period(1), dup})

	var exists *billing.PeriodExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, 0, exists.Number)

	periods, err := m.ListPeriods(ctx, "school-1", "season-1")
	require.NoError(t, err)
	assert.Len(t, periods, 1, "the batch is all or nothing")
}

func TestMemory_ListPeriods_OrderedAndCopied(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	require.NoError(t, m.InsertPeriods(ctx, []billing.Period{period(2), period(0), period(1)}))

	periods, err := m.ListPeriods(ctx, "school-1", "season-1")
	require.NoError(t, err)
	require.Len(t, periods, 3)
	for i, p := range periods {
		assert.Equal(t, i, p.Number)
	}

	periods[0].Number = 99
	again, err := m.ListPeriods(ctx, "school-1", "season-1")
	require.NoError(t, err)
	assert.Equal(t, 0, again[0].Number)
}

func TestMemory_AppendTransaction_Idempotency(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	tx := billing.Transaction{
		ID: "t1", SchoolID: "school-1", SeasonID: "season-1", Amount: billing.NewMoney(10),
		Type: billing.TxPayment, Date: billing.NewDate(2026, 1, 10), IdempotencyKey: "k",
	}

	require.NoError(t, m.AppendTransaction(ctx, tx))
	tx.ID = "t2"
	assert.ErrorIs(t, m.AppendTransaction(ctx, tx), billing.ErrDuplicateIdempotencyKey)

	// Empty keys never collide.
	tx.IdempotencyKey = ""
	require.NoError(t, m.AppendTransaction(ctx, tx))
	tx.ID = "t3"
	require.NoError(t, m.AppendTransaction(ctx, tx))
}

func TestMemory_ListTransactions_OrderedByDate(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	for _, tx := range []billing.Transaction{
		{ID: "late", Date: billing.NewDate(2026, 3, 1)},
		{ID: "early", Date: billing.NewDate(2026, 1, 6)},
		{ID: "mid-a", Date: billing.NewDate(2026, 2, 1)},
		{ID: "mid-b", Date: billing.NewDate(2026, 2, 1)},
	} {
		tx.SchoolID, tx.SeasonID = "school-1", "season-1"
		tx.Type, tx.Amount = billing.TxPayment, billing.NewMoney(1)
		require.NoError(t, m.AppendTransaction(ctx, tx))
	}

	txs, err := m.ListTransactions(ctx, billing.TransactionFilter{SchoolID: "school-1"})
	require.NoError(t, err)

	var ids []billing.TransactionID
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []billing.TransactionID{"early", "mid-a", "mid-b", "late"}, ids)
}

func TestMemory_InsertClosure_Once(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	c := billing.SeasonClosure{SchoolID: "school-1", SeasonID: "season-1", Reason: "first", Balance: billing.ZeroMoney()}

	require.NoError(t, m.InsertClosure(ctx, c))
	c.Reason = "second"
	err := m.InsertClosure(ctx, c)

	var already *billing.AlreadyClosedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "first", already.Closure.Reason)

	closures, err := m.ListClosures(ctx, "school-1")
	require.NoError(t, err)
	assert.Len(t, closures, 1)
}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that appends, inserts periods, marks a student
	//        paid and then fails
	// WHEN: WithTx returns
	// THEN: None of those writes are visible

	m := seedMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(s billing.Store) error {
		require.NoError(t, s.InsertPeriods(ctx, []billing.Period{period(0)}))
		require.NoError(t, s.AppendTransaction(ctx, billing.Transaction{
			ID: "t1", SchoolID: "school-1", SeasonID: "season-1", Amount: billing.NewMoney(10),
			Type: billing.TxPayment, Date: billing.NewDate(2026, 1, 10), IdempotencyKey: "k",
		}))
		require.NoError(t, s.SetLastPaymentStatus(ctx, "ana", billing.LastPaymentPaid))

		// Reads inside the transaction see the writes.
		ps, err := s.ListPeriods(ctx, "school-1", "season-1")
		require.NoError(t, err)
		assert.Len(t, ps, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	ps, err := m.ListPeriods(ctx, "school-1", "season-1")
	require.NoError(t, err)
	assert.Empty(t, ps)
	_, err = m.GetPeriod(ctx, "p0")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	txs, err := m.ListTransactions(ctx, billing.TransactionFilter{SchoolID: "school-1"})
	require.NoError(t, err)
	assert.Empty(t, txs)

	st, err := m.GetStudent(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, billing.LastPaymentUnset, st.LastPaymentStatus)

	// The idempotency key was released with the rollback.
	require.NoError(t, m.AppendTransaction(ctx, billing.Transaction{
		ID: "t1", SchoolID: "school-1", SeasonID: "season-1", Amount: billing.NewMoney(10),
		Type: billing.TxPayment, Date: billing.NewDate(2026, 1, 10), IdempotencyKey: "k",
	}))
}

func TestMemory_SaveSchool_CycleStartFixedOncePeriodsExist(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	school, err := m.GetSchool(ctx, "school-1")
	require.NoError(t, err)

	// Free to move before any period exists.
	school.CycleStartDate = billing.NewDate(2026, 1, 12)
	require.NoError(t, m.SaveSchool(ctx, school))

	p := period(0)
	require.NoError(t, m.InsertPeriods(ctx, []billing.Period{p}))

	school.CycleStartDate = billing.NewDate(2026, 1, 19)
	assert.ErrorIs(t, m.SaveSchool(ctx, school), billing.ErrInvalidCycle)

	// Other fields can still change.
	school.CycleStartDate = billing.NewDate(2026, 1, 12)
	school.Name = "Renamed"
	require.NoError(t, m.SaveSchool(ctx, school))
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetSchool(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	_, err = m.GetSeason(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	_, err = m.GetStudent(ctx, "x")
	assert.True(t, billing.IsNotFound(err))
	assert.True(t, billing.IsNotFound(m.SetLastPaymentStatus(ctx, "x", billing.LastPaymentClaimed)))

	c, err := m.GetClosure(ctx, "x", "y")
	require.NoError(t, err)
	assert.Nil(t, c)
}

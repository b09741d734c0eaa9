package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/cache"
	"github.com/router-for-me/QuotaLedger/internal/clock"
	"github.com/router-for-me/QuotaLedger/internal/dbtest"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/router-for-me/QuotaLedger/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var base = time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, opts Options) (*Ledger, *gorm.DB, *clock.Fake, uint64) {
	t.Helper()
	conn := dbtest.Open(t)
	clk := clock.NewFake(base)
	accountID := dbtest.CreateAccount(t, conn, base)
	return New(conn, clk, opts), conn, clk, accountID
}

func consume(t *testing.T, l *Ledger, accountID uint64, units int64, requestID string) usage.Outcome {
	t.Helper()
	out, err := l.Consume(context.Background(), ConsumeRequest{
		AccountID: accountID,
		Feature:   "consult",
		Units:     units,
		RequestID: requestID,
	})
	require.NoError(t, err)
	return out
}

func TestCheckCreatesDefaultEntitlement(t *testing.T) {
	l, _, _, accountID := newLedger(t, Options{})

	snap, err := l.Check(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPlanCode, snap.Plan.Code)
	assert.Equal(t, int64(3), snap.CreditsRemaining)
	assert.True(t, snap.Entitlement.ActiveFrom.Equal(base))
	assert.True(t, snap.PeriodEnd.Equal(base.Add(30*24*time.Hour)))

	again, err := l.Check(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, snap.Entitlement.ID, again.Entitlement.ID)
}

func TestConsumeSequenceAndReplay(t *testing.T) {
	l, conn, _, accountID := newLedger(t, Options{})

	want := []usage.Outcome{
		{Allowed: true, CreditsRemaining: 2},
		{Allowed: true, CreditsRemaining: 1},
		{Allowed: true, CreditsRemaining: 0},
		{Allowed: false, CreditsRemaining: 0, Reason: usage.ReasonInsufficientCredits},
	}
	for i, expected := range want {
		out := consume(t, l, accountID, 1, fmt.Sprintf("r%d", i+1))
		assert.Equal(t, expected, out, "attempt r%d", i+1)
	}

	replay := consume(t, l, accountID, 1, "r1")
	assert.True(t, replay.Allowed)
	assert.Equal(t, int64(2), replay.CreditsRemaining)
	assert.True(t, replay.Replayed)

	var ent models.Entitlement
	require.NoError(t, conn.Where("account_id = ?", accountID).Take(&ent).Error)
	assert.Equal(t, int64(3), ent.CreditsUsed)

	var events int64
	require.NoError(t, conn.Model(&models.UsageEvent{}).Count(&events).Error)
	assert.Equal(t, int64(4), events)
}

func TestConsumeMultiUnit(t *testing.T) {
	l, _, _, accountID := newLedger(t, Options{})

	assert.Equal(t, usage.Outcome{Allowed: true, CreditsRemaining: 2}, consume(t, l, accountID, 1, "a"))
	assert.Equal(t, usage.Outcome{Allowed: true, CreditsRemaining: 2, Replayed: true}, consume(t, l, accountID, 1, "a"))
	assert.Equal(t, usage.Outcome{Allowed: true, CreditsRemaining: 0}, consume(t, l, accountID, 2, "b"))
	denied := consume(t, l, accountID, 1, "c")
	assert.False(t, denied.Allowed)
	assert.Equal(t, int64(0), denied.CreditsRemaining)
}

func TestDenialLeavesBalanceUntouched(t *testing.T) {
	l, conn, _, accountID := newLedger(t, Options{})

	consume(t, l, accountID, 2, "a")
	out := consume(t, l, accountID, 2, "b")
	assert.False(t, out.Allowed)
	assert.Equal(t, int64(1), out.CreditsRemaining)

	var ent models.Entitlement
	require.NoError(t, conn.Where("account_id = ?", accountID).Take(&ent).Error)
	assert.Equal(t, int64(2), ent.CreditsUsed)
}

func TestConservationAcrossEvents(t *testing.T) {
	l, conn, _, accountID := newLedger(t, Options{})

	for i, units := range []int64{1, 2, 1, 1} {
		consume(t, l, accountID, units, fmt.Sprintf("c%d", i))
	}

	var allowedUnits int64
	require.NoError(t, conn.Model(&models.UsageEvent{}).
		Where("account_id = ? AND allowed = ?", accountID, true).
		Select("COALESCE(SUM(units), 0)").
		Scan(&allowedUnits).Error)

	var ent models.Entitlement
	require.NoError(t, conn.Where("account_id = ?", accountID).Take(&ent).Error)
	assert.Equal(t, allowedUnits, ent.CreditsUsed)
	assert.LessOrEqual(t, ent.CreditsUsed, int64(3))
}

func TestRolloverResetsCycle(t *testing.T) {
	l, _, clk, accountID := newLedger(t, Options{})

	consume(t, l, accountID, 3, "spend")
	snap, err := l.Check(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.CreditsRemaining)

	clk.Advance(30*24*time.Hour - time.Second)
	snap, err = l.Check(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.CreditsRemaining, "cycle still active one second before the end")

	clk.Set(base.Add(30 * 24 * time.Hour))
	snap, err = l.Check(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.CreditsRemaining)
	assert.True(t, snap.Entitlement.ActiveFrom.Equal(clk.Now()))
	assert.True(t, snap.PeriodEnd.Equal(clk.Now().Add(30*24*time.Hour)))

	out := consume(t, l, accountID, 1, "after-rollover")
	assert.Equal(t, usage.Outcome{Allowed: true, CreditsRemaining: 2}, out)
}

func TestConsumeRollsOverLapsedCycle(t *testing.T) {
	l, _, clk, accountID := newLedger(t, Options{})

	consume(t, l, accountID, 3, "spend")
	clk.Advance(45 * 24 * time.Hour)
	out := consume(t, l, accountID, 1, "next-cycle")
	assert.Equal(t, usage.Outcome{Allowed: true, CreditsRemaining: 2}, out)
}

func TestMissingDefaultPlanIsConfigurationError(t *testing.T) {
	l, _, _, accountID := newLedger(t, Options{DefaultPlanCode: "gold"})

	_, err := l.Check(context.Background(), accountID)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.False(t, errs.IsRetryable(err))

	_, err = l.Consume(context.Background(), ConsumeRequest{AccountID: accountID, Feature: "consult", Units: 1, RequestID: "x"})
	assert.True(t, errs.IsConfiguration(err))
}

func TestUnknownAccountIsValidationError(t *testing.T) {
	l, _, _, _ := newLedger(t, Options{})

	_, err := l.Check(context.Background(), 999)
	assert.True(t, errs.IsValidation(err))
}

func TestConsumeValidatesInput(t *testing.T) {
	l, conn, _, accountID := newLedger(t, Options{})
	ctx := context.Background()

	cases := []ConsumeRequest{
		{AccountID: 0, Feature: "consult", Units: 1, RequestID: "a"},
		{AccountID: accountID, Feature: " ", Units: 1, RequestID: "a"},
		{AccountID: accountID, Feature: "consult", Units: 0, RequestID: "a"},
		{AccountID: accountID, Feature: "consult", Units: 1, RequestID: ""},
		{AccountID: accountID, Feature: strings.Repeat("f", usage.MaxFeatureLength+1), Units: 1, RequestID: "a"},
		{AccountID: accountID, Feature: "consult", Units: 1, RequestID: strings.Repeat("r", usage.MaxRequestIDLength+1)},
	}
	for _, req := range cases {
		_, err := l.Consume(ctx, req)
		assert.True(t, errs.IsValidation(err), "request %+v", req)
	}

	var events int64
	require.NoError(t, conn.Model(&models.UsageEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestConcurrentConsumesNeverOverspend(t *testing.T) {
	l, conn, _, accountID := newLedger(t, Options{})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]usage.Outcome, workers)
	errsSeen := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsSeen[i] = l.Consume(context.Background(), ConsumeRequest{
				AccountID: accountID,
				Feature:   "consult",
				Units:     1,
				RequestID: fmt.Sprintf("p%d", i),
			})
		}(i)
	}
	wg.Wait()

	allowed := 0
	for i := range results {
		require.NoError(t, errsSeen[i])
		if results[i].Allowed {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)

	var ent models.Entitlement
	require.NoError(t, conn.Where("account_id = ?", accountID).Take(&ent).Error)
	assert.Equal(t, int64(3), ent.CreditsUsed)
}

func TestConcurrentSameRequestIDAppliesOnce(t *testing.T) {
	l, conn, _, accountID := newLedger(t, Options{})

	const workers = 6
	var wg sync.WaitGroup
	results := make([]usage.Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := l.Consume(context.Background(), ConsumeRequest{
				AccountID: accountID,
				Feature:   "consult",
				Units:     1,
				RequestID: "same",
			})
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, out := range results {
		assert.True(t, out.Allowed)
		assert.Equal(t, int64(2), out.CreditsRemaining)
	}
	var ent models.Entitlement
	require.NoError(t, conn.Where("account_id = ?", accountID).Take(&ent).Error)
	assert.Equal(t, int64(1), ent.CreditsUsed)
}

func TestCachedReaderInvalidatedByConsume(t *testing.T) {
	manager := cache.NewManager(cache.Settings{Enabled: true, TTL: time.Hour}, func() time.Time { return base }, nil, nil)
	l, _, _, accountID := newLedger(t, Options{Cache: manager})
	reader := NewCachedReader(l)
	ctx := context.Background()

	snap, err := reader.Remaining(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Remaining)

	cached, ok := manager.Get(ctx, cache.AccountKey(accountID))
	require.True(t, ok)
	assert.Equal(t, int64(3), cached.Remaining)

	consume(t, l, accountID, 1, "r1")
	_, ok = manager.Get(ctx, cache.AccountKey(accountID))
	assert.False(t, ok)

	snap, err = reader.Remaining(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Remaining)
}

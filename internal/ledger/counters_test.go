package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/clock"
	"github.com/router-for-me/QuotaLedger/internal/dbtest"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/usage"
	"github.com/router-for-me/QuotaLedger/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyCountersResetAtUsageDayBoundary(t *testing.T) {
	conn := dbtest.Open(t)
	start := time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	accountID := dbtest.CreateAccount(t, conn, start)
	l := New(conn, clk, Options{})
	day := window.Day{Location: window.DefaultLocation}
	ctx := context.Background()

	count, err := l.Increment(ctx, accountID, "general_chat", day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	_, err = l.Increment(ctx, accountID, "one_oracle", day)
	require.NoError(t, err)
	count, err = l.Increment(ctx, accountID, "general_chat", day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	daily := map[string]window.Window{"general_chat": day, "one_oracle": day}
	counts, err := l.Counters(ctx, accountID, daily)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"general_chat": 2, "one_oracle": 1}, counts)

	count, err = l.Counter(ctx, accountID, "general_chat", day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	count, err = l.Counter(ctx, accountID, "never_used", day)
	require.NoError(t, err)
	assert.Zero(t, count)

	clk.Advance(2 * time.Hour)
	count, err = l.Counter(ctx, accountID, "general_chat", day)
	require.NoError(t, err)
	assert.Zero(t, count, "read reflects the new usage day")
	counts, err = l.Counters(ctx, accountID, daily)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"general_chat": 0, "one_oracle": 0}, counts)
}

func TestMonthlyCounterKeepsCountWithinMonth(t *testing.T) {
	conn := dbtest.Open(t)
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	accountID := dbtest.CreateAccount(t, conn, start)
	l := New(conn, clk, Options{})
	month := window.Month{Location: window.DefaultLocation}
	ctx := context.Background()

	_, err := l.Increment(ctx, accountID, "messages", month)
	require.NoError(t, err)
	clk.Advance(20 * 24 * time.Hour)
	count, err := l.Increment(ctx, accountID, "messages", month)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	clk.Set(time.Date(2024, 2, 29, 15, 0, 0, 0, time.UTC))
	count, err = l.Increment(ctx, accountID, "messages", month)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "March has started in the usage timezone")
}

func TestConsumeAllowance(t *testing.T) {
	conn := dbtest.Open(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	accountID := dbtest.CreateAccount(t, conn, start)
	l := New(conn, clk, Options{})
	day := window.Day{Location: window.DefaultLocation}
	ctx := context.Background()

	req := AllowanceRequest{AccountID: accountID, Name: "one_oracle", Limit: 1, Window: day, RequestID: "o1"}
	out, err := l.ConsumeAllowance(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, usage.Outcome{Allowed: true, CreditsRemaining: 0}, out)

	req.RequestID = "o2"
	out, err = l.ConsumeAllowance(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, ReasonAllowanceExhausted, out.Reason)

	req.RequestID = "o1"
	out, err = l.ConsumeAllowance(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
	assert.True(t, out.Replayed)

	counts, err := l.Counters(ctx, accountID, map[string]window.Window{"one_oracle": day})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["one_oracle"])

	clk.Advance(24 * time.Hour)
	req.RequestID = "o3"
	out, err = l.ConsumeAllowance(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Allowed)
}

func TestCounterValidation(t *testing.T) {
	conn := dbtest.Open(t)
	l := New(conn, clock.NewFake(time.Now()), Options{})
	ctx := context.Background()
	day := window.Day{}

	_, err := l.Increment(ctx, 0, "x", day)
	assert.True(t, errs.IsValidation(err))
	_, err = l.Increment(ctx, 1, "", day)
	assert.True(t, errs.IsValidation(err))
	_, err = l.Counters(ctx, 1, nil)
	assert.True(t, errs.IsValidation(err))
	_, err = l.Counters(ctx, 1, map[string]window.Window{"x": nil})
	assert.True(t, errs.IsValidation(err))
	_, err = l.Increment(ctx, 1, strings.Repeat("n", MaxCounterNameLength+1), day)
	assert.True(t, errs.IsValidation(err), "name too long for the feature column")
	_, err = l.Increment(ctx, 12345, "x", day)
	assert.True(t, errs.IsValidation(err), "unknown account")
	_, err = l.ConsumeAllowance(ctx, AllowanceRequest{AccountID: 1, Name: "x", Limit: -1, Window: day, RequestID: "r"})
	assert.True(t, errs.IsValidation(err))
}

func TestCountersRollEachNameWithItsOwnWindow(t *testing.T) {
	conn := dbtest.Open(t)
	start := time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	accountID := dbtest.CreateAccount(t, conn, start)
	l := New(conn, clk, Options{})
	day := window.Day{Location: window.DefaultLocation}
	month := window.Month{Location: window.DefaultLocation}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Increment(ctx, accountID, "line_messages", month)
		require.NoError(t, err)
	}
	_, err := l.Increment(ctx, accountID, "general_chat", day)
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	counts, err := l.Counters(ctx, accountID, map[string]window.Window{"general_chat": day, "line_messages": month})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"general_chat": 0, "line_messages": 5}, counts)

	counts, err = l.Counters(ctx, accountID, map[string]window.Window{"general_chat": day})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"general_chat": 0}, counts, "counters without a window are omitted")

	count, err := l.Counter(ctx, accountID, "line_messages", month)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count, "monthly counter survives daily reads")
}

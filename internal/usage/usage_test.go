package usage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/dbtest"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunRecordsThenReplays(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	accountID := dbtest.CreateAccount(t, conn, now)
	ctx := context.Background()

	calls := 0
	attempt := func(tx *gorm.DB) (models.UsageEvent, error) {
		calls++
		return models.UsageEvent{
			AccountID:        accountID,
			Feature:          "tarot",
			Units:            1,
			Allowed:          true,
			CreditsRemaining: int64(10 - calls),
			CreatedAt:        now,
		}, nil
	}

	first, err := Run(ctx, conn, "req-1", attempt)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Allowed: true, CreditsRemaining: 9}, first)

	second, err := Run(ctx, conn, "req-1", attempt)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "replay must not run the attempt")
	assert.True(t, second.Replayed)
	assert.Equal(t, first.CreditsRemaining, second.CreditsRemaining)

	var event models.UsageEvent
	require.NoError(t, conn.Where("request_id = ?", "req-1").Take(&event).Error)
	assert.JSONEq(t, `{"allowed":true,"credits_remaining":9,"feature":"tarot","units":1}`, string(event.Metadata))
}

func TestRunDenialMetadata(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	accountID := dbtest.CreateAccount(t, conn, now)

	out, err := Run(context.Background(), conn, "req-denied", func(tx *gorm.DB) (models.UsageEvent, error) {
		return models.UsageEvent{
			AccountID: accountID,
			Feature:   "tarot",
			Units:     2,
			Reason:    ReasonInsufficientCredits,
			CreatedAt: now,
		}, nil
	})
	require.NoError(t, err)
	assert.False(t, out.Allowed)
	assert.Equal(t, ReasonInsufficientCredits, out.Reason)

	var event models.UsageEvent
	require.NoError(t, conn.Where("request_id = ?", "req-denied").Take(&event).Error)
	assert.JSONEq(t, `{"allowed":false,"credits_remaining":0,"reason":"insufficient_credits"}`, string(event.Metadata))
}

func TestRunAttemptErrorRollsBack(t *testing.T) {
	conn := dbtest.Open(t)
	boom := errors.New("boom")

	_, err := Run(context.Background(), conn, "req-err", func(tx *gorm.DB) (models.UsageEvent, error) {
		return models.UsageEvent{}, boom
	})
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	assert.ErrorIs(t, err, boom)

	_, found, err := Lookup(context.Background(), conn, "req-err")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunRejectsEmptyRequestID(t *testing.T) {
	conn := dbtest.Open(t)
	_, err := Run(context.Background(), conn, "  ", nil)
	assert.True(t, errs.IsValidation(err))
}

func TestRunRejectsOverlongIdentifiers(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	_, err := Run(ctx, conn, strings.Repeat("r", MaxRequestIDLength+1), nil)
	assert.True(t, errs.IsValidation(err))
	assert.False(t, errs.IsRetryable(err))

	_, err = Run(ctx, conn, "req-long-feature", func(tx *gorm.DB) (models.UsageEvent, error) {
		return models.UsageEvent{AccountID: 1, Feature: strings.Repeat("f", MaxFeatureLength+1), Units: 1}, nil
	})
	assert.True(t, errs.IsValidation(err))
	assert.False(t, errs.IsRetryable(err))

	_, found, err := Lookup(ctx, conn, "req-long-feature")
	require.NoError(t, err)
	assert.False(t, found)
}

package grants

import (
	"context"
	"fmt"
	"time"

	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
)

// adminPassHorizon is how far ahead an admin's effective pass always reaches.
const adminPassHorizon = 30 * 24 * time.Hour

// Policy lists the accounts that bypass the paywall.
type Policy struct {
	PaywallEnabled    bool
	AdminAccountIDs   []uint64
	PremiumAccountIDs []uint64
}

type policySet struct {
	paywall bool
	admins  map[uint64]struct{}
	premium map[uint64]struct{}
}

func newPolicySet(p Policy) policySet {
	set := policySet{
		paywall: p.PaywallEnabled,
		admins:  make(map[uint64]struct{}, len(p.AdminAccountIDs)),
		premium: make(map[uint64]struct{}, len(p.PremiumAccountIDs)),
	}
	for _, id := range p.AdminAccountIDs {
		set.admins[id] = struct{}{}
	}
	for _, id := range p.PremiumAccountIDs {
		set.premium[id] = struct{}{}
	}
	return set
}

// Access is the effective entitlement of an account after applying the policy.
type Access struct {
	AccountID     uint64     `json:"account_id"`
	Admin         bool       `json:"admin"`
	Premium       bool       `json:"premium"`
	HasPass       bool       `json:"has_pass"`
	PassExpiresAt *time.Time `json:"pass_expires_at"`
}

// IsAdmin reports whether accountID is a configured admin.
func (e *Engine) IsAdmin(accountID uint64) bool {
	_, ok := e.policy.admins[accountID]
	return ok
}

// HasActivePass reports whether the account holds a purchased pass that has not
// expired yet.
func (e *Engine) HasActivePass(ctx context.Context, accountID uint64) (bool, error) {
	until, errPass := e.passUntil(ctx, accountID)
	if errPass != nil {
		return false, errPass
	}
	return until != nil && until.After(e.clock.Now()), nil
}

// Access evaluates the paywall policy for the account. Admins always hold a pass
// reaching 30 days ahead; listed premium accounts hold one without expiry; with the
// paywall disabled everyone is premium.
func (e *Engine) Access(ctx context.Context, accountID uint64) (Access, error) {
	if accountID == 0 {
		return Access{}, errs.Validation("account_id", "must be positive")
	}
	now := e.clock.Now()
	access := Access{AccountID: accountID}

	if e.IsAdmin(accountID) {
		expires := now.Add(adminPassHorizon)
		access.Admin = true
		access.Premium = true
		access.HasPass = true
		access.PassExpiresAt = &expires
		return access, nil
	}

	until, errPass := e.passUntil(ctx, accountID)
	if errPass != nil {
		return Access{}, errPass
	}
	if until != nil && until.After(now) {
		access.HasPass = true
		access.PassExpiresAt = until
	}
	if _, ok := e.policy.premium[accountID]; ok {
		access.HasPass = true
	}
	access.Premium = access.HasPass || !e.policy.paywall
	return access, nil
}

func (e *Engine) passUntil(ctx context.Context, accountID uint64) (*time.Time, error) {
	var wallet models.Wallet
	errTake := e.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&wallet).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return nil, nil
		}
		return nil, errs.Persistence("grants: pass", fmt.Errorf("load wallet: %w", errTake))
	}
	return wallet.PassUntil, nil
}

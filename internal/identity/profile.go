package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
)

// Supported interface languages.
const (
	LangJapanese   = "ja"
	LangEnglish    = "en"
	LangPortuguese = "pt"

	DefaultLang = LangJapanese
)

// NormalizeLang maps a locale tag such as "en_US" or "pt-BR" to a supported
// language, falling back to Japanese.
func NormalizeLang(code string) string {
	code = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
	switch {
	case strings.HasPrefix(code, LangEnglish):
		return LangEnglish
	case strings.HasPrefix(code, LangPortuguese):
		return LangPortuguese
	default:
		return DefaultLang
	}
}

// Account returns the account row.
func (r *Resolver) Account(ctx context.Context, accountID uint64) (models.Account, error) {
	var account models.Account
	if errTake := r.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error; errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return models.Account{}, errs.Validation("account_id", fmt.Sprintf("account %d does not exist", accountID))
		}
		return models.Account{}, errs.Persistence("identity: account", errTake)
	}
	return account, nil
}

// SetLanguage stores the normalized language and returns it.
func (r *Resolver) SetLanguage(ctx context.Context, accountID uint64, lang string) (string, error) {
	normalized := NormalizeLang(lang)
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"lang": normalized, "updated_at": r.clock.Now()})
	if res.Error != nil {
		return "", errs.Persistence("identity: set language", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", errs.Validation("account_id", fmt.Sprintf("account %d does not exist", accountID))
	}
	return normalized, nil
}

// AcceptTerms records the first terms acceptance. Later calls keep the original time.
func (r *Resolver) AcceptTerms(ctx context.Context, accountID uint64) (models.Account, error) {
	now := r.clock.Now()
	if errUpdate := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND terms_accepted_at IS NULL", accountID).
		Updates(map[string]any{"terms_accepted_at": now, "updated_at": now}).Error; errUpdate != nil {
		return models.Account{}, errs.Persistence("identity: accept terms", errUpdate)
	}
	return r.Account(ctx, accountID)
}

// HasAcceptedTerms reports whether the account accepted the terms.
func (r *Resolver) HasAcceptedTerms(ctx context.Context, accountID uint64) (bool, error) {
	account, errAccount := r.Account(ctx, accountID)
	if errAccount != nil {
		return false, errAccount
	}
	return account.TermsAcceptedAt != nil, nil
}

// InTrial reports whether the account was first seen less than trialDays ago.
func (r *Resolver) InTrial(ctx context.Context, accountID uint64, trialDays int) (bool, error) {
	if trialDays <= 0 {
		return false, nil
	}
	account, errAccount := r.Account(ctx, accountID)
	if errAccount != nil {
		return false, errAccount
	}
	trialEnd := account.CreatedAt.Add(time.Duration(trialDays) * 24 * time.Hour)
	return r.clock.Now().Before(trialEnd), nil
}

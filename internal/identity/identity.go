// Package identity maps external provider identities to internal accounts and keeps
// the small per-account profile.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/router-for-me/QuotaLedger/internal/clock"
	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Known providers.
const (
	ProviderTelegram = "telegram"
	ProviderLine     = "line"
)

const maxProviderUserIDLength = 128

var providerPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

var errRaced = errors.New("identity: mapping created concurrently")

// Resolution is the account an external identity maps to.
type Resolution struct {
	AccountID  uint64 `json:"account_id"`
	IdentityID uint64 `json:"identity_id"`
	Created    bool   `json:"created"`
}

// Resolver owns the accounts and identities tables.
type Resolver struct {
	db    *gorm.DB
	clock clock.Clock
}

// New constructs a Resolver.
func New(conn *gorm.DB, clk clock.Clock) *Resolver {
	return &Resolver{db: conn, clock: clock.OrReal(clk)}
}

// Resolve returns the account bound to (provider, providerUserID), creating the
// account and mapping on first sight. Repeated and concurrent calls converge on one
// account.
func (r *Resolver) Resolve(ctx context.Context, provider, providerUserID string) (Resolution, error) {
	provider, providerUserID, errValidate := normalizeIdentity(provider, providerUserID)
	if errValidate != nil {
		return Resolution{}, errValidate
	}

	var res Resolution
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.clock.Now()
		existing, found, errFind := findIdentity(tx, provider, providerUserID)
		if errFind != nil {
			return errFind
		}
		if found {
			if errTouch := tx.Model(&models.Identity{}).
				Where("id = ?", existing.ID).
				Update("last_seen", now).Error; errTouch != nil {
				return fmt.Errorf("touch identity: %w", errTouch)
			}
			res = Resolution{AccountID: existing.AccountID, IdentityID: existing.ID}
			return nil
		}

		account := models.Account{Lang: DefaultLang, CreatedAt: now, UpdatedAt: now}
		if errCreate := tx.Create(&account).Error; errCreate != nil {
			return fmt.Errorf("create account: %w", errCreate)
		}
		ident := models.Identity{
			AccountID:      account.ID,
			Provider:       provider,
			ProviderUserID: providerUserID,
			CreatedAt:      now,
			LastSeen:       now,
		}
		created := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_user_id"}},
			DoNothing: true,
		}).Create(&ident)
		if created.Error != nil {
			if dbutil.IsDuplicateKey(created.Error) {
				return errRaced
			}
			return fmt.Errorf("create identity: %w", created.Error)
		}
		if created.RowsAffected == 0 {
			return errRaced
		}
		res = Resolution{AccountID: account.ID, IdentityID: ident.ID, Created: true}
		return nil
	})
	if errors.Is(errTx, errRaced) {
		existing, found, errFind := findIdentity(r.db.WithContext(ctx), provider, providerUserID)
		if errFind != nil {
			return Resolution{}, errs.Persistence("identity: resolve", errFind)
		}
		if !found {
			return Resolution{}, errs.Persistence("identity: resolve", errors.New("conflicting identity vanished"))
		}
		return Resolution{AccountID: existing.AccountID, IdentityID: existing.ID}, nil
	}
	if errTx != nil {
		return Resolution{}, errs.Persistence("identity: resolve", errTx)
	}
	if res.Created {
		log.WithFields(log.Fields{
			"account_id": res.AccountID,
			"provider":   provider,
		}).Info("identity: account created")
	}
	return res, nil
}

// Identities lists the external identities bound to an account.
func (r *Resolver) Identities(ctx context.Context, accountID uint64) ([]models.Identity, error) {
	var rows []models.Identity
	if errFind := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, errs.Persistence("identity: list", errFind)
	}
	return rows, nil
}

func normalizeIdentity(provider, providerUserID string) (string, string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerUserID = strings.TrimSpace(providerUserID)
	switch {
	case provider == "":
		return "", "", errs.Validation("provider", "must not be empty")
	case !providerPattern.MatchString(provider):
		return "", "", errs.Validation("provider", fmt.Sprintf("malformed provider %q", provider))
	case providerUserID == "":
		return "", "", errs.Validation("provider_user_id", "must not be empty")
	case len(providerUserID) > maxProviderUserIDLength:
		return "", "", errs.Validation("provider_user_id", "too long")
	}
	return provider, providerUserID, nil
}

func findIdentity(tx *gorm.DB, provider, providerUserID string) (models.Identity, bool, error) {
	var row models.Identity
	errTake := tx.Where("provider = ? AND provider_user_id = ?", provider, providerUserID).Take(&row).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return models.Identity{}, false, nil
		}
		return models.Identity{}, false, fmt.Errorf("load identity: %w", errTake)
	}
	return row, true, nil
}

// Package grants applies purchased products to an account: ticket balances, the pass
// expiry and capability flags.
package grants

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/catalog"
	"github.com/router-for-me/QuotaLedger/internal/clock"
	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	"github.com/router-for-me/QuotaLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine grants and revokes catalog products.
type Engine struct {
	db      *gorm.DB
	clock   clock.Clock
	catalog catalog.Lookup
	policy  policySet
	metrics *metrics.Metrics
}

// Balance is everything an account currently holds.
type Balance struct {
	AccountID uint64           `json:"account_id"`
	Tickets   map[string]int64 `json:"tickets"`
	PassUntil *time.Time       `json:"pass_until"`
	Flags     map[string]bool  `json:"flags"`
}

// New constructs an Engine over the given catalog.
func New(conn *gorm.DB, clk clock.Clock, lookup catalog.Lookup, policy Policy, m *metrics.Metrics) *Engine {
	if lookup == nil {
		lookup = catalog.Default()
	}
	return &Engine{
		db:      conn,
		clock:   clock.OrReal(clk),
		catalog: lookup,
		policy:  newPolicySet(policy),
		metrics: m,
	}
}

// Catalog returns the product lookup the engine resolves SKUs with.
func (e *Engine) Catalog() catalog.Lookup { return e.catalog }

// Grant applies the product's effect. Passes stack from the later of now and the
// current expiry.
func (e *Engine) Grant(ctx context.Context, accountID uint64, sku string) (Balance, error) {
	product, ok := e.catalog.Product(sku)
	if !ok {
		return Balance{}, errs.Validation("sku", fmt.Sprintf("unknown sku %q", strings.TrimSpace(sku)))
	}
	if accountID == 0 {
		return Balance{}, errs.Validation("account_id", "must be positive")
	}

	var bal Balance
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := e.clock.Now()
		if errAccount := requireAccount(tx, accountID); errAccount != nil {
			return errAccount
		}
		var errApply error
		switch g := product.Grant.(type) {
		case catalog.Ticket:
			errApply = grantTicket(tx, accountID, g.Tier, now)
		case catalog.Pass:
			errApply = grantPass(tx, accountID, g.Duration, now)
		case catalog.Addon:
			errApply = setFlag(tx, accountID, g.Flag, true, now)
		default:
			errApply = errs.Configuration("catalog", fmt.Sprintf("sku %q has an unsupported grant", product.SKU))
		}
		if errApply != nil {
			return errApply
		}
		var errBalance error
		bal, errBalance = e.balance(tx, accountID)
		return errBalance
	})
	if errTx != nil {
		return Balance{}, errs.Persistence("grants: grant", errTx)
	}

	e.metrics.ObserveGrant("grant", product.Grant.Kind())
	log.WithFields(log.Fields{
		"account_id": accountID,
		"sku":        product.SKU,
	}).Info("grants: product granted")
	return bal, nil
}

// Revoke undoes a product's effect: the flag is cleared, the tier is decremented
// without going below zero, and the pass expiry is removed entirely.
func (e *Engine) Revoke(ctx context.Context, accountID uint64, sku string) (Balance, error) {
	product, ok := catalog.Resolve(e.catalog, sku)
	if !ok {
		return Balance{}, errs.Validation("sku", fmt.Sprintf("unknown sku %q", strings.TrimSpace(sku)))
	}
	if accountID == 0 {
		return Balance{}, errs.Validation("account_id", "must be positive")
	}

	var bal Balance
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := e.clock.Now()
		if errAccount := requireAccount(tx, accountID); errAccount != nil {
			return errAccount
		}
		var errApply error
		switch g := product.Grant.(type) {
		case catalog.Ticket:
			errApply = revokeTicket(tx, accountID, g.Tier, now)
		case catalog.Pass:
			errApply = clearPass(tx, accountID, now)
		case catalog.Addon:
			errApply = setFlag(tx, accountID, g.Flag, false, now)
		default:
			errApply = errs.Configuration("catalog", fmt.Sprintf("sku %q has an unsupported grant", product.SKU))
		}
		if errApply != nil {
			return errApply
		}
		var errBalance error
		bal, errBalance = e.balance(tx, accountID)
		return errBalance
	})
	if errTx != nil {
		return Balance{}, errs.Persistence("grants: revoke", errTx)
	}

	e.metrics.ObserveGrant("revoke", product.Grant.Kind())
	log.WithFields(log.Fields{
		"account_id": accountID,
		"sku":        product.SKU,
	}).Info("grants: product revoked")
	return bal, nil
}

// Balance returns the account's tickets, pass expiry and flags. Every catalog tier
// is listed, at zero when never granted.
func (e *Engine) Balance(ctx context.Context, accountID uint64) (Balance, error) {
	if accountID == 0 {
		return Balance{}, errs.Validation("account_id", "must be positive")
	}
	bal, errBalance := e.balance(e.db.WithContext(ctx), accountID)
	if errBalance != nil {
		return Balance{}, errs.Persistence("grants: balance", errBalance)
	}
	return bal, nil
}

func (e *Engine) balance(tx *gorm.DB, accountID uint64) (Balance, error) {
	bal := Balance{
		AccountID: accountID,
		Tickets:   make(map[string]int64),
		Flags:     make(map[string]bool),
	}
	for _, tier := range catalog.Tiers(e.catalog) {
		bal.Tickets[tier] = 0
	}

	var tickets []models.TicketBalance
	if errFind := tx.Where("account_id = ?", accountID).Find(&tickets).Error; errFind != nil {
		return Balance{}, fmt.Errorf("load tickets: %w", errFind)
	}
	for _, row := range tickets {
		bal.Tickets[row.Tier] = row.Balance
	}

	var flags []models.CapabilityFlag
	if errFind := tx.Where("account_id = ?", accountID).Find(&flags).Error; errFind != nil {
		return Balance{}, fmt.Errorf("load flags: %w", errFind)
	}
	for _, row := range flags {
		bal.Flags[row.Flag] = row.Enabled
	}

	var wallet models.Wallet
	errWallet := tx.Where("account_id = ?", accountID).Take(&wallet).Error
	if errWallet != nil && !dbutil.IsNotFound(errWallet) {
		return Balance{}, fmt.Errorf("load wallet: %w", errWallet)
	}
	if errWallet == nil {
		bal.PassUntil = wallet.PassUntil
	}
	return bal, nil
}

func grantTicket(tx *gorm.DB, accountID uint64, tier string, now time.Time) error {
	row := models.TicketBalance{AccountID: accountID, Tier: tier, UpdatedAt: now}
	if errCreate := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "tier"}},
		DoNothing: true,
	}).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("ensure ticket balance: %w", errCreate)
	}
	if errUpdate := tx.Model(&models.TicketBalance{}).
		Where("account_id = ? AND tier = ?", accountID, tier).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", 1),
			"updated_at": now,
		}).Error; errUpdate != nil {
		return fmt.Errorf("add ticket: %w", errUpdate)
	}
	return nil
}

func revokeTicket(tx *gorm.DB, accountID uint64, tier string, now time.Time) error {
	if errUpdate := tx.Model(&models.TicketBalance{}).
		Where("account_id = ? AND tier = ? AND balance > 0", accountID, tier).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", 1),
			"updated_at": now,
		}).Error; errUpdate != nil {
		return fmt.Errorf("remove ticket: %w", errUpdate)
	}
	return nil
}

func grantPass(tx *gorm.DB, accountID uint64, duration time.Duration, now time.Time) error {
	wallet, errWallet := lockWallet(tx, accountID, now)
	if errWallet != nil {
		return errWallet
	}
	from := now
	if wallet.PassUntil != nil && wallet.PassUntil.After(now) {
		from = *wallet.PassUntil
	}
	until := from.Add(duration)
	if errUpdate := tx.Model(&models.Wallet{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"pass_until": until,
			"updated_at": now,
		}).Error; errUpdate != nil {
		return fmt.Errorf("extend pass: %w", errUpdate)
	}
	return nil
}

func clearPass(tx *gorm.DB, accountID uint64, now time.Time) error {
	if errUpdate := tx.Model(&models.Wallet{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"pass_until": nil,
			"updated_at": now,
		}).Error; errUpdate != nil {
		return fmt.Errorf("clear pass: %w", errUpdate)
	}
	return nil
}

// lockWallet ensures the wallet row exists and locks it.
func lockWallet(tx *gorm.DB, accountID uint64, now time.Time) (models.Wallet, error) {
	row := models.Wallet{AccountID: accountID, UpdatedAt: now}
	if errCreate := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(&row).Error; errCreate != nil {
		return models.Wallet{}, fmt.Errorf("ensure wallet: %w", errCreate)
	}
	var wallet models.Wallet
	if errTake := dbutil.ForUpdate(tx).Where("account_id = ?", accountID).Take(&wallet).Error; errTake != nil {
		return models.Wallet{}, fmt.Errorf("load wallet: %w", errTake)
	}
	return wallet, nil
}

func setFlag(tx *gorm.DB, accountID uint64, flag string, enabled bool, now time.Time) error {
	row := models.CapabilityFlag{AccountID: accountID, Flag: flag, Enabled: enabled, UpdatedAt: now}
	if errUpsert := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "flag"}},
		DoUpdates: clause.Assignments(map[string]any{
			"enabled":    enabled,
			"updated_at": now,
		}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("set flag %s: %w", flag, errUpsert)
	}
	return nil
}

func requireAccount(tx *gorm.DB, accountID uint64) error {
	var account models.Account
	if errAccount := tx.Select("id").Where("id = ?", accountID).Take(&account).Error; errAccount != nil {
		if dbutil.IsNotFound(errAccount) {
			return errs.Validation("account_id", fmt.Sprintf("account %d does not exist", accountID))
		}
		return fmt.Errorf("load account: %w", errAccount)
	}
	return nil
}

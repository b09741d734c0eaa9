// Package allowance applies the free-usage policy on top of the ledger counters:
// per-feature limits, a larger limit while an account is in its trial, and an
// unlimited bypass for admins.
package allowance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	"github.com/router-for-me/QuotaLedger/internal/identity"
	"github.com/router-for-me/QuotaLedger/internal/ledger"
	"github.com/router-for-me/QuotaLedger/internal/usage"
	"github.com/router-for-me/QuotaLedger/internal/window"
)

// Rule is one named allowance.
type Rule struct {
	Name       string
	Window     window.Window
	Limit      int64
	TrialLimit *int64
}

// Result is the outcome of taking one unit of an allowance.
type Result struct {
	usage.Outcome
	Limit    int64
	Bypassed bool
}

// Status is the current use of one allowance.
type Status struct {
	Name      string `json:"name"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// Service evaluates allowances for accounts.
type Service struct {
	ledger    *ledger.Ledger
	identity  *identity.Resolver
	grants    *grants.Engine
	rules     map[string]Rule
	trialDays int
}

// RulesFromConfig builds rules from the configured allowances. Windows are
// interpreted in loc.
func RulesFromConfig(items []config.Allowance, loc *time.Location) ([]Rule, error) {
	rules := make([]Rule, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, errs.Configuration("allowances.name", "must not be empty")
		}
		if len(name) > ledger.MaxCounterNameLength {
			return nil, errs.Configuration("allowances."+name, fmt.Sprintf("name must be at most %d characters", ledger.MaxCounterNameLength))
		}
		if _, dup := seen[name]; dup {
			return nil, errs.Configuration("allowances."+name, "is defined twice")
		}
		seen[name] = struct{}{}
		w, ok := window.ParseKind(item.Window, loc)
		if !ok {
			return nil, errs.Configuration("allowances."+name+".window", fmt.Sprintf("unknown window %q", item.Window))
		}
		if item.Limit < 0 || (item.TrialLimit != nil && *item.TrialLimit < 0) {
			return nil, errs.Configuration("allowances."+name+".limit", "must not be negative")
		}
		rules = append(rules, Rule{Name: name, Window: w, Limit: item.Limit, TrialLimit: item.TrialLimit})
	}
	return rules, nil
}

// New constructs a Service.
func New(l *ledger.Ledger, resolver *identity.Resolver, engine *grants.Engine, rules []Rule, trialDays int) *Service {
	byName := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		byName[rule.Name] = rule
	}
	return &Service{
		ledger:    l,
		identity:  resolver,
		grants:    engine,
		rules:     byName,
		trialDays: trialDays,
	}
}

// Take consumes one unit of the named allowance, at most once per requestID.
func (s *Service) Take(ctx context.Context, accountID uint64, name, requestID string) (Result, error) {
	rule, ok := s.rules[strings.TrimSpace(name)]
	if !ok {
		return Result{}, errs.Validation("name", "unknown allowance")
	}
	if accountID == 0 {
		return Result{}, errs.Validation("account_id", "must be positive")
	}
	if s.grants.IsAdmin(accountID) {
		return Result{Outcome: usage.Outcome{Allowed: true}, Bypassed: true}, nil
	}
	limit, errLimit := s.limitFor(ctx, accountID, rule)
	if errLimit != nil {
		return Result{}, errLimit
	}
	out, errConsume := s.ledger.ConsumeAllowance(ctx, ledger.AllowanceRequest{
		AccountID: accountID,
		Name:      rule.Name,
		Limit:     limit,
		Window:    rule.Window,
		RequestID: requestID,
	})
	if errConsume != nil {
		return Result{}, errConsume
	}
	return Result{Outcome: out, Limit: limit}, nil
}

// Statuses reports every allowance of the account, sorted by name.
func (s *Service) Statuses(ctx context.Context, accountID uint64) ([]Status, error) {
	if accountID == 0 {
		return nil, errs.Validation("account_id", "must be positive")
	}
	admin := s.grants.IsAdmin(accountID)
	out := make([]Status, 0, len(s.rules))
	for _, rule := range s.rules {
		used, errCounter := s.ledger.Counter(ctx, accountID, rule.Name, rule.Window)
		if errCounter != nil {
			return nil, errCounter
		}
		status := Status{Name: rule.Name, Used: used, Unlimited: admin}
		if !admin {
			limit, errLimit := s.limitFor(ctx, accountID, rule)
			if errLimit != nil {
				return nil, errLimit
			}
			status.Limit = limit
			status.Remaining = window.Counter{Used: used}.Remaining(limit)
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) limitFor(ctx context.Context, accountID uint64, rule Rule) (int64, error) {
	if rule.TrialLimit == nil {
		return rule.Limit, nil
	}
	inTrial, errTrial := s.identity.InTrial(ctx, accountID, s.trialDays)
	if errTrial != nil {
		return 0, errTrial
	}
	if inTrial {
		return *rule.TrialLimit, nil
	}
	return rule.Limit, nil
}

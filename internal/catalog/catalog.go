// Package catalog describes the purchasable products and what each one grants.
package catalog

import (
	"sort"
	"strings"
	"time"
)

// Grant is the effect a product has on an account. The set of implementations is
// closed: Ticket, Pass and Addon.
type Grant interface {
	// Kind names the grant family for logs and metrics.
	Kind() string
	grant()
}

// Ticket adds one unit to a ticket tier balance.
type Ticket struct {
	Tier string
}

// Pass extends the account's pass expiry.
type Pass struct {
	Duration time.Duration
}

// Addon switches a capability flag on.
type Addon struct {
	Flag string
}

func (Ticket) Kind() string { return "ticket" }
func (Pass) Kind() string   { return "pass" }
func (Addon) Kind() string  { return "addon" }

func (Ticket) grant() {}
func (Pass) grant()   {}
func (Addon) grant()  {}

// Product is one catalog entry. Price is in the payment provider's smallest unit.
type Product struct {
	SKU   string
	Title string
	Price int64
	Grant Grant
}

// Lookup finds products by SKU.
type Lookup interface {
	Product(sku string) (Product, bool)
	Products() []Product
}

// legacyPassPrefix is the SKU prefix older pass purchases were recorded under.
const legacyPassPrefix = "PREMIUM_"

// Ticket tiers and capability flags of the default catalog.
const (
	TierTickets3  = "tickets_3"
	TierTickets7  = "tickets_7"
	TierTickets10 = "tickets_10"

	FlagImagesEnabled = "images_enabled"
)

// Static is an immutable in-memory catalog.
type Static struct {
	products map[string]Product
}

// NewStatic builds a catalog from products. Later entries win on duplicate SKUs.
func NewStatic(products ...Product) *Static {
	s := &Static{products: make(map[string]Product, len(products))}
	for _, p := range products {
		p.SKU = strings.TrimSpace(p.SKU)
		if p.SKU == "" || p.Grant == nil {
			continue
		}
		s.products[p.SKU] = p
	}
	return s
}

// Default returns the catalog shipped with the service.
func Default() *Static {
	day := 24 * time.Hour
	return NewStatic(
		Product{SKU: "PASS_7D", Title: "7-day pass", Price: 1000, Grant: Pass{Duration: 7 * day}},
		Product{SKU: "PASS_30D", Title: "30-day pass", Price: 3500, Grant: Pass{Duration: 30 * day}},
		Product{SKU: "TICKET_3", Title: "3-card ticket", Price: 100, Grant: Ticket{Tier: TierTickets3}},
		Product{SKU: "TICKET_7", Title: "7-card ticket", Price: 300, Grant: Ticket{Tier: TierTickets7}},
		Product{SKU: "TICKET_10", Title: "10-card ticket", Price: 500, Grant: Ticket{Tier: TierTickets10}},
		Product{SKU: "ADDON_IMAGES", Title: "Image add-on", Price: 500, Grant: Addon{Flag: FlagImagesEnabled}},
	)
}

// Product returns the product with the given SKU.
func (s *Static) Product(sku string) (Product, bool) {
	if s == nil {
		return Product{}, false
	}
	p, ok := s.products[strings.TrimSpace(sku)]
	return p, ok
}

// Products returns every product ordered by SKU.
func (s *Static) Products() []Product {
	if s == nil {
		return nil
	}
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// Resolve finds sku in l, also accepting the legacy PREMIUM_ prefix as an alias of
// the pass with the same suffix.
func Resolve(l Lookup, sku string) (Product, bool) {
	if l == nil {
		return Product{}, false
	}
	sku = strings.TrimSpace(sku)
	if p, ok := l.Product(sku); ok {
		return p, true
	}
	suffix, ok := strings.CutPrefix(sku, legacyPassPrefix)
	if !ok || suffix == "" {
		return Product{}, false
	}
	p, ok := l.Product("PASS_" + suffix)
	if !ok {
		return Product{}, false
	}
	if _, isPass := p.Grant.(Pass); !isPass {
		return Product{}, false
	}
	return p, true
}

// Tiers lists the ticket tiers offered by l.
func Tiers(l Lookup) []string {
	if l == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var tiers []string
	for _, p := range l.Products() {
		ticket, ok := p.Grant.(Ticket)
		if !ok {
			continue
		}
		if _, dup := seen[ticket.Tier]; dup {
			continue
		}
		seen[ticket.Tier] = struct{}{}
		tiers = append(tiers, ticket.Tier)
	}
	sort.Strings(tiers)
	return tiers
}

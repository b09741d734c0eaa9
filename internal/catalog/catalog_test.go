package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	tests := []struct {
		sku   string
		price int64
		grant Grant
	}{
		{"PASS_7D", 1000, Pass{Duration: 7 * 24 * time.Hour}},
		{"PASS_30D", 3500, Pass{Duration: 30 * 24 * time.Hour}},
		{"TICKET_3", 100, Ticket{Tier: TierTickets3}},
		{"TICKET_7", 300, Ticket{Tier: TierTickets7}},
		{"TICKET_10", 500, Ticket{Tier: TierTickets10}},
		{"ADDON_IMAGES", 500, Addon{Flag: FlagImagesEnabled}},
	}
	for _, tt := range tests {
		t.Run(tt.sku, func(t *testing.T) {
			p, ok := c.Product(tt.sku)
			require.True(t, ok)
			assert.Equal(t, tt.price, p.Price)
			assert.Equal(t, tt.grant, p.Grant)
		})
	}
	assert.Len(t, c.Products(), len(tests))

	_, ok := c.Product("PASS_1Y")
	assert.False(t, ok)
}

func TestResolveLegacyPremiumAlias(t *testing.T) {
	c := Default()

	p, ok := Resolve(c, "PREMIUM_30D")
	require.True(t, ok)
	assert.Equal(t, "PASS_30D", p.SKU)

	_, ok = Resolve(c, "PREMIUM_")
	assert.False(t, ok)
	_, ok = Resolve(c, "PREMIUM_90D")
	assert.False(t, ok)

	p, ok = Resolve(c, " TICKET_7 ")
	require.True(t, ok)
	assert.Equal(t, "ticket", p.Grant.Kind())
}

func TestTiers(t *testing.T) {
	assert.Equal(t, []string{TierTickets10, TierTickets3, TierTickets7}, Tiers(Default()))
	assert.Nil(t, Tiers(nil))
}

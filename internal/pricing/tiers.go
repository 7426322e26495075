package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/njordpay/njord/internal/domain"
)

// Tier is a purchasable subscription tier.
type Tier struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Free reports whether the tier costs nothing to activate.
func (t Tier) Free() bool {
	return t.Price.IsZero()
}

// TierCatalog holds the purchasable subscription tiers. The catalog is
// immutable after construction.
type TierCatalog struct {
	tiers map[string]Tier
	order []string
}

// NewTierCatalog builds a catalog from a list of tiers.
func NewTierCatalog(tiers []Tier) *TierCatalog {
	c := &TierCatalog{tiers: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		if _, dup := c.tiers[t.ID]; dup {
			continue
		}
		c.tiers[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c
}

// DefaultTiers is the built-in catalog used when none is configured.
func DefaultTiers() *TierCatalog {
	return NewTierCatalog([]Tier{
		{ID: "community", Name: "Community", Price: decimal.Zero},
		{ID: "starter", Name: "Starter", Price: decimal.RequireFromString("9.99")},
		{ID: "pro", Name: "Pro", Price: decimal.RequireFromString("29.99")},
	})
}

// Tier looks up a tier by id.
func (c *TierCatalog) Tier(id string) (Tier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return Tier{}, domain.NotFound("pricing.tier", "unknown subscription tier")
	}
	return t, nil
}

// Tiers returns all tiers in catalog order.
func (c *TierCatalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tiers[id])
	}
	return out
}

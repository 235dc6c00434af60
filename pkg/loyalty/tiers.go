package loyalty

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/medreza/honcho-rewards/pkg/models"
)

// Table is the tier step function, ordered by ascending MinBalance. Each
// tier covers [MinBalance, next.MinBalance); the last one is unbounded.
type Table []models.LoyaltyTier

// DefaultTable is bronze [0,5) x1, silver [5,15) x2, gold [15,inf) x3.
func DefaultTable() Table {
	return Table{
		{Name: "bronze", MinBalance: decimal.Zero, Multiplier: decimal.NewFromInt(1)},
		{Name: "silver", MinBalance: decimal.NewFromInt(5), Multiplier: decimal.NewFromInt(2)},
		{Name: "gold", MinBalance: decimal.NewFromInt(15), Multiplier: decimal.NewFromInt(3)},
	}
}

// ParseTable reads "name:min:multiplier" entries separated by commas.
func ParseTable(s string) (Table, error) {
	var t Table
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tier %q: want name:min:multiplier", part)
		}
		minBalance, err := decimal.NewFromString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("tier %q: min balance: %w", part, err)
		}
		multiplier, err := decimal.NewFromString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("tier %q: multiplier: %w", part, err)
		}
		t = append(t, models.LoyaltyTier{
			Name:       strings.TrimSpace(fields[0]),
			MinBalance: minBalance,
			Multiplier: multiplier,
		})
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that the table partitions [0, inf) and that multipliers
// never decrease as the balance grows.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.New("loyalty tiers: table is empty")
	}
	if !t[0].MinBalance.IsZero() {
		return fmt.Errorf("loyalty tiers: first tier %q must start at 0", t[0].Name)
	}
	names := make(map[string]bool, len(t))
	for i, tier := range t {
		if tier.Name == "" {
			return fmt.Errorf("loyalty tiers: tier %d has no name", i)
		}
		if names[tier.Name] {
			return fmt.Errorf("loyalty tiers: duplicate tier %q", tier.Name)
		}
		names[tier.Name] = true
		if !tier.Multiplier.IsPositive() {
			return fmt.Errorf("loyalty tiers: tier %q multiplier must be positive", tier.Name)
		}
		if !tier.Multiplier.Equal(tier.Multiplier.Round(2)) {
			return fmt.Errorf("loyalty tiers: tier %q multiplier %s has more than 2 decimal places", tier.Name, tier.Multiplier)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if !tier.MinBalance.GreaterThan(prev.MinBalance) {
			return fmt.Errorf("loyalty tiers: tier %q must start above %q", tier.Name, prev.Name)
		}
		if tier.Multiplier.LessThan(prev.Multiplier) {
			return fmt.Errorf("loyalty tiers: tier %q multiplier below %q", tier.Name, prev.Name)
		}
	}
	return nil
}

// TierFor returns the tier whose range contains balance. Negative balances
// map to the first tier.
func (t Table) TierFor(balance decimal.Decimal) models.LoyaltyTier {
	tier := t[0]
	for _, candidate := range t[1:] {
		if balance.LessThan(candidate.MinBalance) {
			break
		}
		tier = candidate
	}
	return tier
}

// Names lists tier names in ascending order.
func (t Table) Names() []string {
	names := make([]string, len(t))
	for i, tier := range t {
		names[i] = tier.Name
	}
	return names
}

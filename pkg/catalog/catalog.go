// Package catalog loads the admin-owned reference data (users, coupon types
// and games) from a YAML seed file into the store.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/medreza/honcho-rewards/pkg/draw"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

// Catalog is the seed file layout.
type Catalog struct {
	Users       []models.User           `yaml:"users"`
	CouponTypes []CouponType            `yaml:"coupon_types"`
	Games       []models.GameDefinition `yaml:"games"`
}

// CouponType carries the value as a string so that it parses as an exact decimal.
type CouponType struct {
	ID          string            `yaml:"id"`
	Code        string            `yaml:"code"`
	Kind        models.CouponKind `yaml:"kind"`
	Value       string            `yaml:"value"`
	Description string            `yaml:"description"`
}

// Load parses and validates the seed file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) Validate() error {
	users := map[string]bool{}
	for i, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if users[u.ID] {
			return fmt.Errorf("users[%d]: duplicate id %q", i, u.ID)
		}
		users[u.ID] = true
	}

	types := map[string]bool{}
	for i, ct := range c.CouponTypes {
		switch {
		case ct.ID == "":
			return fmt.Errorf("coupon_types[%d]: id is required", i)
		case ct.Code == "":
			return fmt.Errorf("coupon_types[%d]: code is required", i)
		case !ct.Kind.Valid():
			return fmt.Errorf("coupon_types[%d]: unknown kind %q", i, ct.Kind)
		case types[ct.ID]:
			return fmt.Errorf("coupon_types[%d]: duplicate id %q", i, ct.ID)
		}
		if _, err := ct.value(); err != nil {
			return fmt.Errorf("coupon_types[%d]: %w", i, err)
		}
		types[ct.ID] = true
	}

	games := map[string]bool{}
	for i, g := range c.Games {
		switch {
		case g.ID == "":
			return fmt.Errorf("games[%d]: id is required", i)
		case games[g.ID]:
			return fmt.Errorf("games[%d]: duplicate id %q", i, g.ID)
		case !g.Kind.Valid():
			return fmt.Errorf("games[%d]: unknown kind %q", i, g.Kind)
		case g.MaxPlaysPerUser < 1:
			return fmt.Errorf("games[%d]: max_plays_per_user must be at least 1", i)
		case !types[g.RewardCouponTypeID]:
			return fmt.Errorf("games[%d]: unknown reward coupon type %q", i, g.RewardCouponTypeID)
		}
		if err := draw.Validate(g.WinProbability); err != nil {
			return fmt.Errorf("games[%d]: %w", i, err)
		}
		if p := decimal.NewFromFloat(g.WinProbability); !p.Equal(p.Round(2)) {
			return fmt.Errorf("games[%d]: win_probability %v has more than 2 decimal places", i, g.WinProbability)
		}
		games[g.ID] = true
	}
	return nil
}

func (ct CouponType) value() (decimal.Decimal, error) {
	if ct.Value == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(ct.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("value %q: %w", ct.Value, err)
	}
	if v.IsNegative() || !v.Equal(v.Round(2)) {
		return decimal.Zero, fmt.Errorf("value %q must be non-negative with at most 2 decimal places", ct.Value)
	}
	return v, nil
}

// Apply upserts the catalog into the store. Coupon types go first so that
// games can reference them.
func (c *Catalog) Apply(ctx context.Context, store repository.Seeder, log *logrus.Logger) error {
	for _, u := range c.Users {
		if err := store.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, ct := range c.CouponTypes {
		v, err := ct.value()
		if err != nil {
			return err
		}
		err = store.UpsertCouponType(ctx, models.CouponType{
			ID:          ct.ID,
			Code:        ct.Code,
			Kind:        ct.Kind,
			Value:       v,
			Description: ct.Description,
		})
		if err != nil {
			return fmt.Errorf("seed coupon type %s: %w", ct.ID, err)
		}
	}
	for _, g := range c.Games {
		if err := store.UpsertGame(ctx, g); err != nil {
			return fmt.Errorf("seed game %s: %w", g.ID, err)
		}
	}

	log.WithFields(logrus.Fields{
		"users":        len(c.Users),
		"coupon_types": len(c.CouponTypes),
		"games":        len(c.Games),
	}).Info("catalog seeded")
	return nil
}

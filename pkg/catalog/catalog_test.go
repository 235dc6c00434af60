package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

const seed = `
users:
  - id: u-morgan
    display_name: Morgan
  - id: u-ben
    display_name: Ben
coupon_types:
  - id: ct-ship
    code: SHIP
    kind: free_shipping
  - id: ct-5off
    code: FIVEOFF
    kind: fixed
    value: "5.00"
    description: Five off any order
games:
  - id: g-wheel
    kind: wheel
    name: Lucky Wheel
    win_probability: 33.33
    max_plays_per_user: 1
    reward_coupon_type_id: ct-5off
    is_active: true
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Users, 2)
	require.Len(t, c.CouponTypes, 2)
	require.Len(t, c.Games, 1)

	store := repository.NewMemoryStore()
	log, hook := test.NewNullLogger()
	require.NoError(t, c.Apply(context.Background(), store, log))
	assert.Equal(t, "catalog seeded", hook.LastEntry().Message)

	g, err := store.GetGame(context.Background(), "g-wheel")
	require.NoError(t, err)
	assert.Equal(t, models.GameKindWheel, g.Kind)
	assert.InDelta(t, 33.33, g.WinProbability, 1e-9)
	assert.True(t, g.IsActive)

	ct, err := store.GetCouponType(context.Background(), "ct-5off")
	require.NoError(t, err)
	assert.Equal(t, "5", ct.Value.String())

	u, err := store.GetUser(context.Background(), "u-morgan")
	require.NoError(t, err)
	assert.Equal(t, "Morgan", u.DisplayName)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"probability": `
coupon_types: [{id: c, code: C, kind: fixed, value: "1"}]
games: [{id: g, kind: wheel, win_probability: 120, max_plays_per_user: 1, reward_coupon_type_id: c}]`,
		"probability places": `
coupon_types: [{id: c, code: C, kind: fixed, value: "1"}]
games: [{id: g, kind: wheel, win_probability: 33.333, max_plays_per_user: 1, reward_coupon_type_id: c}]`,
		"game kind": `
coupon_types: [{id: c, code: C, kind: fixed, value: "1"}]
games: [{id: g, kind: roulette, win_probability: 10, max_plays_per_user: 1, reward_coupon_type_id: c}]`,
		"reward type": `
games: [{id: g, kind: wheel, win_probability: 10, max_plays_per_user: 1, reward_coupon_type_id: nope}]`,
		"max plays": `
coupon_types: [{id: c, code: C, kind: fixed, value: "1"}]
games: [{id: g, kind: wheel, win_probability: 10, max_plays_per_user: 0, reward_coupon_type_id: c}]`,
		"coupon value": `
coupon_types: [{id: c, code: C, kind: fixed, value: "1.005"}]`,
		"coupon kind": `
coupon_types: [{id: c, code: C, kind: bogus}]`,
		"duplicate user": `
users: [{id: a}, {id: a}]`,
		"yaml": `users: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

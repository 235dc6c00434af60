package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"coupon_types", `
		CREATE TABLE IF NOT EXISTS coupon_types (
			id TEXT PRIMARY KEY,
			code VARCHAR(64) NOT NULL,
			kind VARCHAR(32) NOT NULL CHECK (kind IN ('fixed', 'percentage', 'free_shipping')),
			value NUMERIC(12,2) NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT ''
		)`},
	{"game_definitions", `
		CREATE TABLE IF NOT EXISTS game_definitions (
			id TEXT PRIMARY KEY,
			kind VARCHAR(32) NOT NULL CHECK (kind IN ('card_flip', 'wheel', 'scratch_card')),
			name TEXT NOT NULL DEFAULT '',
			win_probability NUMERIC(5,2) NOT NULL CHECK (win_probability >= 0 AND win_probability <= 100),
			max_plays_per_user INT NOT NULL CHECK (max_plays_per_user >= 0),
			reward_coupon_type_id TEXT NOT NULL REFERENCES coupon_types(id),
			is_active BOOLEAN NOT NULL DEFAULT true
		)`},
	{"play_slots", `
		CREATE TABLE IF NOT EXISTS play_slots (
			user_id TEXT NOT NULL REFERENCES users(id),
			game_id TEXT NOT NULL REFERENCES game_definitions(id),
			plays INT NOT NULL DEFAULT 0 CHECK (plays >= 0),
			PRIMARY KEY (user_id, game_id)
		)`},
	{"issued_coupons", `
		CREATE TABLE IF NOT EXISTS issued_coupons (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			coupon_type_id TEXT NOT NULL REFERENCES coupon_types(id),
			unique_code VARCHAR(128) NOT NULL UNIQUE,
			source VARCHAR(64) NOT NULL,
			is_used BOOLEAN NOT NULL DEFAULT false,
			valid_until TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`},
	{"coupon_slots", `
		CREATE TABLE IF NOT EXISTS coupon_slots (
			user_id TEXT NOT NULL REFERENCES users(id),
			coupon_type_id TEXT NOT NULL REFERENCES coupon_types(id),
			coupon_id TEXT REFERENCES issued_coupons(id),
			PRIMARY KEY (user_id, coupon_type_id)
		)`},
	{"play_records", `
		CREATE TABLE IF NOT EXISTS play_records (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL REFERENCES game_definitions(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			play_index INT NOT NULL CHECK (play_index > 0),
			request_id VARCHAR(128),
			outcome VARCHAR(8) NOT NULL CHECK (outcome IN ('won', 'lost')),
			issued_coupon_id TEXT REFERENCES issued_coupons(id),
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, game_id, play_index),
			UNIQUE (user_id, game_id, request_id)
		)`},
	{"loyalty_accounts", `
		CREATE TABLE IF NOT EXISTS loyalty_accounts (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			balance NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			tier VARCHAR(64) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`},
	{"loyalty_ledger", `
		CREATE TABLE IF NOT EXISTS loyalty_ledger (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			event_type VARCHAR(32) NOT NULL,
			base_amount NUMERIC(12,2) NOT NULL CHECK (base_amount > 0),
			multiplier NUMERIC(6,2) NOT NULL,
			credited_amount NUMERIC(12,2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			idempotency_key VARCHAR(128),
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, idempotency_key)
		)`},
	{"referral_codes", `
		CREATE TABLE IF NOT EXISTS referral_codes (
			code VARCHAR(64) PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
			usage_count INT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			reward_value NUMERIC(12,2) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`},
	{"referral_uses", `
		CREATE TABLE IF NOT EXISTS referral_uses (
			id TEXT PRIMARY KEY,
			referral_code VARCHAR(64) NOT NULL REFERENCES referral_codes(code),
			referred_user_id TEXT NOT NULL REFERENCES users(id),
			order_id VARCHAR(128) NOT NULL UNIQUE,
			sponsor_credited BOOLEAN NOT NULL DEFAULT false,
			referred_credited BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL
		)`},
	{"idx_play_records_user_game", `CREATE INDEX IF NOT EXISTS idx_play_records_user_game ON play_records(user_id, game_id)`},
	{"idx_issued_coupons_user", `CREATE INDEX IF NOT EXISTS idx_issued_coupons_user ON issued_coupons(user_id)`},
	{"idx_loyalty_ledger_user", `CREATE INDEX IF NOT EXISTS idx_loyalty_ledger_user ON loyalty_ledger(user_id, created_at)`},
	{"idx_referral_uses_code", `CREATE INDEX IF NOT EXISTS idx_referral_uses_code ON referral_uses(referral_code)`},
}

// RunMigrations creates the ledger schema if it does not exist yet.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

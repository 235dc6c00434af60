package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/models"
)

const loyaltyEntryColumns = `id, user_id, event_type, base_amount, multiplier, credited_amount, description, COALESCE(idempotency_key, ''), created_at`

func scanLoyaltyEntry(row pgx.Row) (models.LoyaltyEntry, error) {
	var e models.LoyaltyEntry
	err := row.Scan(&e.ID, &e.UserID, &e.EventType, &e.BaseAmount, &e.Multiplier, &e.CreditedAmount,
		&e.Description, &e.IdempotencyKey, &e.CreatedAt)
	return e, err
}

func (s *PostgresStore) GetLoyaltyAccount(ctx context.Context, userID string) (models.LoyaltyAccount, error) {
	var a models.LoyaltyAccount
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, tier, updated_at FROM loyalty_accounts WHERE user_id = $1`, userID,
	).Scan(&a.UserID, &a.Balance, &a.Tier, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LoyaltyAccount{}, apperr.NotFound("loyalty account", userID)
		}
		return models.LoyaltyAccount{}, mapErr("get loyalty account", err)
	}
	return a, nil
}

func (s *PostgresStore) ListLoyaltyEntries(ctx context.Context, userID string) ([]models.LoyaltyEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+loyaltyEntryColumns+` FROM loyalty_ledger WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, mapErr("list loyalty entries", err)
	}
	defer rows.Close()

	var entries []models.LoyaltyEntry
	for rows.Next() {
		e, err := scanLoyaltyEntry(rows)
		if err != nil {
			return nil, mapErr("scan loyalty entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate loyalty entries", err)
	}
	return entries, nil
}

func (t *pgTx) LockLoyaltyAccount(ctx context.Context, userID, initialTier string, now time.Time) (models.LoyaltyAccount, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO loyalty_accounts (user_id, balance, tier, updated_at) VALUES ($1, 0, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, initialTier, now,
	)
	if err != nil {
		return models.LoyaltyAccount{}, mapErr("create loyalty account", err)
	}

	var a models.LoyaltyAccount
	err = t.tx.QueryRow(ctx,
		`SELECT user_id, balance, tier, updated_at FROM loyalty_accounts WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&a.UserID, &a.Balance, &a.Tier, &a.UpdatedAt)
	if err != nil {
		return models.LoyaltyAccount{}, mapErr("lock loyalty account", err)
	}
	return a, nil
}

func (t *pgTx) FindLoyaltyEntryByKey(ctx context.Context, userID, key string) (models.LoyaltyEntry, bool, error) {
	e, err := scanLoyaltyEntry(t.tx.QueryRow(ctx,
		`SELECT `+loyaltyEntryColumns+` FROM loyalty_ledger WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LoyaltyEntry{}, false, nil
		}
		return models.LoyaltyEntry{}, false, mapErr("find loyalty entry", err)
	}
	return e, true, nil
}

func (t *pgTx) InsertLoyaltyEntry(ctx context.Context, e models.LoyaltyEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO loyalty_ledger (id, user_id, event_type, base_amount, multiplier, credited_amount, description, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		e.ID, e.UserID, e.EventType, e.BaseAmount, e.Multiplier, e.CreditedAmount, e.Description, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		return mapErr("insert loyalty entry", err)
	}
	return nil
}

func (t *pgTx) UpdateLoyaltyBalance(ctx context.Context, userID string, balance decimal.Decimal, tier string, now time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE loyalty_accounts SET balance = $2, tier = $3, updated_at = $4 WHERE user_id = $1`,
		userID, balance, tier, now,
	)
	if err != nil {
		return mapErr("update loyalty balance", err)
	}
	if tag.RowsAffected() != 1 {
		return apperr.NotFound("loyalty account", userID)
	}
	return nil
}

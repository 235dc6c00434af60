package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/models"
)

const (
	referralCodeColumns = `user_id, code, usage_count, reward_value, is_active, expires_at, created_at`
	referralUseColumns  = `id, referral_code, referred_user_id, order_id, sponsor_credited, referred_credited, created_at`
)

func scanReferralCode(row pgx.Row) (models.ReferralCode, error) {
	var rc models.ReferralCode
	err := row.Scan(&rc.UserID, &rc.Code, &rc.UsageCount, &rc.RewardValue, &rc.IsActive, &rc.ExpiresAt, &rc.CreatedAt)
	return rc, err
}

func scanReferralUse(row pgx.Row) (models.ReferralUse, error) {
	var u models.ReferralUse
	err := row.Scan(&u.ID, &u.ReferralCode, &u.ReferredUserID, &u.OrderID, &u.SponsorCredited, &u.ReferredCredited, &u.CreatedAt)
	return u, err
}

func getReferralCodeByUser(ctx context.Context, q querier, userID string) (models.ReferralCode, bool, error) {
	rc, err := scanReferralCode(q.QueryRow(ctx,
		`SELECT `+referralCodeColumns+` FROM referral_codes WHERE user_id = $1`, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReferralCode{}, false, nil
		}
		return models.ReferralCode{}, false, mapErr("get referral code by user", err)
	}
	return rc, true, nil
}

func (s *PostgresStore) GetReferralCodeByUser(ctx context.Context, userID string) (models.ReferralCode, error) {
	rc, ok, err := getReferralCodeByUser(ctx, s.pool, userID)
	if err != nil {
		return models.ReferralCode{}, err
	}
	if !ok {
		return models.ReferralCode{}, apperr.NotFound("referral code for user", userID)
	}
	return rc, nil
}

func (s *PostgresStore) ListReferralUses(ctx context.Context, code string) ([]models.ReferralUse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+referralUseColumns+` FROM referral_uses WHERE referral_code = $1 ORDER BY created_at`,
		code,
	)
	if err != nil {
		return nil, mapErr("list referral uses", err)
	}
	defer rows.Close()

	var uses []models.ReferralUse
	for rows.Next() {
		u, err := scanReferralUse(rows)
		if err != nil {
			return nil, mapErr("scan referral use", err)
		}
		uses = append(uses, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate referral uses", err)
	}
	return uses, nil
}

func (t *pgTx) GetReferralCodeByUser(ctx context.Context, userID string) (models.ReferralCode, bool, error) {
	return getReferralCodeByUser(ctx, t.tx, userID)
}

func (t *pgTx) InsertReferralCode(ctx context.Context, rc models.ReferralCode) (bool, error) {
	var inserted bool
	err := t.savepoint(ctx, func(q querier) error {
		tag, err := q.Exec(ctx,
			`INSERT INTO referral_codes (`+referralCodeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (user_id) DO NOTHING`,
			rc.UserID, rc.Code, rc.UsageCount, rc.RewardValue, rc.IsActive, rc.ExpiresAt, rc.CreatedAt,
		)
		inserted = tag.RowsAffected() == 1
		return err
	})
	if err != nil {
		if isUniqueViolation(err, "referral_codes_pkey") {
			return false, ErrDuplicateCode
		}
		return false, mapErr("insert referral code", err)
	}
	return inserted, nil
}

func (t *pgTx) GetReferralCode(ctx context.Context, code string) (models.ReferralCode, error) {
	rc, err := scanReferralCode(t.tx.QueryRow(ctx,
		`SELECT `+referralCodeColumns+` FROM referral_codes WHERE code = $1`, code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReferralCode{}, apperr.NotFound("referral code", code)
		}
		return models.ReferralCode{}, mapErr("get referral code", err)
	}
	return rc, nil
}

func (t *pgTx) IncrementReferralUsage(ctx context.Context, code string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE referral_codes SET usage_count = usage_count + 1 WHERE code = $1`, code,
	)
	if err != nil {
		return mapErr("increment referral usage", err)
	}
	return nil
}

func (t *pgTx) InsertReferralUse(ctx context.Context, u models.ReferralUse) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO referral_uses (`+referralUseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (order_id) DO NOTHING`,
		u.ID, u.ReferralCode, u.ReferredUserID, u.OrderID, u.SponsorCredited, u.ReferredCredited, u.CreatedAt,
	)
	if err != nil {
		return false, mapErr("insert referral use", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetReferralUseByOrder(ctx context.Context, orderID string) (models.ReferralUse, error) {
	u, err := scanReferralUse(t.tx.QueryRow(ctx,
		`SELECT `+referralUseColumns+` FROM referral_uses WHERE order_id = $1`, orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReferralUse{}, apperr.NotFound("referral use for order", orderID)
		}
		return models.ReferralUse{}, mapErr("get referral use", err)
	}
	return u, nil
}

// MarkSponsorCredited is the guard against double crediting: only the
// statement that observes sponsor_credited = false affects a row.
func (t *pgTx) MarkSponsorCredited(ctx context.Context, useID string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE referral_uses SET sponsor_credited = true WHERE id = $1 AND sponsor_credited = false`, useID,
	)
	if err != nil {
		return false, mapErr("mark sponsor credited", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) MarkReferredCredited(ctx context.Context, useID string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE referral_uses SET referred_credited = true WHERE id = $1 AND referred_credited = false`, useID,
	)
	if err != nil {
		return false, mapErr("mark referred credited", err)
	}
	return tag.RowsAffected() == 1, nil
}

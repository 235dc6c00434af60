package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/models"
)

const issuedCouponColumns = `id, user_id, coupon_type_id, unique_code, source, is_used, valid_until, created_at`

func scanIssuedCoupon(row pgx.Row) (models.IssuedCoupon, error) {
	var c models.IssuedCoupon
	err := row.Scan(&c.ID, &c.UserID, &c.CouponTypeID, &c.UniqueCode, &c.Source, &c.IsUsed, &c.ValidUntil, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) ListCoupons(ctx context.Context, userID string) ([]models.IssuedCoupon, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+issuedCouponColumns+` FROM issued_coupons WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, mapErr("list coupons", err)
	}
	defer rows.Close()

	var coupons []models.IssuedCoupon
	for rows.Next() {
		c, err := scanIssuedCoupon(rows)
		if err != nil {
			return nil, mapErr("scan coupon", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate coupons", err)
	}
	return coupons, nil
}

// LockCouponSlot creates the slot row on first use and locks it with
// FOR UPDATE so that concurrent issuance for the same user and coupon type
// is serialized.
func (t *pgTx) LockCouponSlot(ctx context.Context, userID, couponTypeID string) (string, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO coupon_slots (user_id, coupon_type_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, coupon_type_id) DO NOTHING`,
		userID, couponTypeID,
	)
	if err != nil {
		return "", mapErr("create coupon slot", err)
	}

	var couponID *string
	err = t.tx.QueryRow(ctx,
		`SELECT coupon_id FROM coupon_slots WHERE user_id = $1 AND coupon_type_id = $2 FOR UPDATE`,
		userID, couponTypeID,
	).Scan(&couponID)
	if err != nil {
		return "", mapErr("lock coupon slot", err)
	}
	if couponID == nil {
		return "", nil
	}
	return *couponID, nil
}

func (t *pgTx) GetIssuedCoupon(ctx context.Context, id string) (models.IssuedCoupon, error) {
	c, err := scanIssuedCoupon(t.tx.QueryRow(ctx,
		`SELECT `+issuedCouponColumns+` FROM issued_coupons WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.IssuedCoupon{}, apperr.NotFound("coupon", id)
		}
		return models.IssuedCoupon{}, mapErr("get coupon", err)
	}
	return c, nil
}

func (t *pgTx) InsertCoupon(ctx context.Context, c models.IssuedCoupon) error {
	err := t.savepoint(ctx, func(q querier) error {
		_, err := q.Exec(ctx,
			`INSERT INTO issued_coupons (`+issuedCouponColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.UserID, c.CouponTypeID, c.UniqueCode, c.Source, c.IsUsed, c.ValidUntil, c.CreatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err, "issued_coupons_unique_code_key") {
			return ErrDuplicateCode
		}
		return mapErr("insert coupon", err)
	}
	return nil
}

func (t *pgTx) SetCouponSlot(ctx context.Context, userID, couponTypeID, couponID string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE coupon_slots SET coupon_id = $3 WHERE user_id = $1 AND coupon_type_id = $2`,
		userID, couponTypeID, couponID,
	)
	if err != nil {
		return mapErr("update coupon slot", err)
	}
	return nil
}

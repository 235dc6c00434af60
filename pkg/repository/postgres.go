package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/models"
)

const (
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit transaction", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// savepoint runs fn inside a nested transaction so that a failed statement
// does not abort the enclosing unit of work.
func (t *pgTx) savepoint(ctx context.Context, fn func(q querier) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// mapErr classifies driver errors into the ledger taxonomy.
func mapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolationCode, pgSerializationFailureCode, pgDeadlockDetectedCode:
			return fmt.Errorf("%w: %s: %s", apperr.ErrConflict, op, pgErr.ConstraintName)
		}
	}
	return apperr.Persistence(op, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

func getUser(ctx context.Context, q querier, id string) (models.User, error) {
	var u models.User
	err := q.QueryRow(ctx,
		`SELECT id, display_name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, apperr.NotFound("user", id)
		}
		return models.User{}, mapErr("get user", err)
	}
	return u, nil
}

func getCouponType(ctx context.Context, q querier, id string) (models.CouponType, error) {
	var ct models.CouponType
	err := q.QueryRow(ctx,
		`SELECT id, code, kind, value, description FROM coupon_types WHERE id = $1`, id,
	).Scan(&ct.ID, &ct.Code, &ct.Kind, &ct.Value, &ct.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CouponType{}, apperr.NotFound("coupon type", id)
		}
		return models.CouponType{}, mapErr("get coupon type", err)
	}
	return ct, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	return getUser(ctx, s.pool, id)
}

func (s *PostgresStore) GetCouponType(ctx context.Context, id string) (models.CouponType, error) {
	return getCouponType(ctx, s.pool, id)
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (models.GameDefinition, error) {
	var g models.GameDefinition
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, name, win_probability, max_plays_per_user, reward_coupon_type_id, is_active
		 FROM game_definitions WHERE id = $1`, id,
	).Scan(&g.ID, &g.Kind, &g.Name, &g.WinProbability, &g.MaxPlaysPerUser, &g.RewardCouponTypeID, &g.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GameDefinition{}, apperr.NotFound("game", id)
		}
		return models.GameDefinition{}, mapErr("get game", err)
	}
	return g, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, display_name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		u.ID, u.DisplayName,
	)
	return mapErr("upsert user", err)
}

func (s *PostgresStore) UpsertGame(ctx context.Context, g models.GameDefinition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_definitions (id, kind, name, win_probability, max_plays_per_user, reward_coupon_type_id, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, name = EXCLUDED.name,
			win_probability = EXCLUDED.win_probability, max_plays_per_user = EXCLUDED.max_plays_per_user,
			reward_coupon_type_id = EXCLUDED.reward_coupon_type_id, is_active = EXCLUDED.is_active`,
		g.ID, g.Kind, g.Name, g.WinProbability, g.MaxPlaysPerUser, g.RewardCouponTypeID, g.IsActive,
	)
	if err != nil {
		return mapErr("upsert game", err)
	}
	return nil
}

func (s *PostgresStore) UpsertCouponType(ctx context.Context, ct models.CouponType) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO coupon_types (id, code, kind, value, description) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, kind = EXCLUDED.kind,
			value = EXCLUDED.value, description = EXCLUDED.description`,
		ct.ID, ct.Code, ct.Kind, ct.Value, ct.Description,
	)
	if err != nil {
		return mapErr("upsert coupon type", err)
	}
	return nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (models.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *pgTx) GetCouponType(ctx context.Context, id string) (models.CouponType, error) {
	return getCouponType(ctx, t.tx, id)
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/medreza/honcho-rewards/pkg/models"
)

const playColumns = `id, game_id, user_id, play_index, COALESCE(request_id, ''), outcome, COALESCE(issued_coupon_id, ''), created_at`

func scanPlay(row pgx.Row) (models.PlayRecord, error) {
	var p models.PlayRecord
	err := row.Scan(&p.ID, &p.GameID, &p.UserID, &p.PlayIndex, &p.RequestID, &p.Outcome, &p.IssuedCouponID, &p.CreatedAt)
	return p, err
}

func (s *PostgresStore) ListPlays(ctx context.Context, userID, gameID string) ([]models.PlayRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playColumns+` FROM play_records WHERE user_id = $1 AND game_id = $2 ORDER BY play_index`,
		userID, gameID,
	)
	if err != nil {
		return nil, mapErr("list plays", err)
	}
	defer rows.Close()

	var plays []models.PlayRecord
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, mapErr("scan play", err)
		}
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate plays", err)
	}
	return plays, nil
}

func (t *pgTx) LockPlaySlot(ctx context.Context, userID, gameID string) (int, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO play_slots (user_id, game_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, game_id) DO NOTHING`,
		userID, gameID,
	)
	if err != nil {
		return 0, mapErr("create play slot", err)
	}

	// lock the slot row using 'FOR UPDATE' so that the cap check and the insert
	// below cannot interleave with another attempt of the same user
	var plays int
	err = t.tx.QueryRow(ctx,
		`SELECT plays FROM play_slots WHERE user_id = $1 AND game_id = $2 FOR UPDATE`,
		userID, gameID,
	).Scan(&plays)
	if err != nil {
		return 0, mapErr("lock play slot", err)
	}
	return plays, nil
}

func (t *pgTx) FindPlayByRequest(ctx context.Context, userID, gameID, requestID string) (models.PlayRecord, bool, error) {
	p, err := scanPlay(t.tx.QueryRow(ctx,
		`SELECT `+playColumns+` FROM play_records WHERE user_id = $1 AND game_id = $2 AND request_id = $3`,
		userID, gameID, requestID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PlayRecord{}, false, nil
		}
		return models.PlayRecord{}, false, mapErr("find play by request", err)
	}
	return p, true, nil
}

func (t *pgTx) InsertPlay(ctx context.Context, p models.PlayRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO play_records (id, game_id, user_id, play_index, request_id, outcome, issued_coupon_id, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8)`,
		p.ID, p.GameID, p.UserID, p.PlayIndex, p.RequestID, p.Outcome, p.IssuedCouponID, p.CreatedAt,
	)
	if err != nil {
		return mapErr("insert play", err)
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE play_slots SET plays = plays + 1 WHERE user_id = $1 AND game_id = $2`,
		p.UserID, p.GameID,
	)
	if err != nil {
		return mapErr("update play slot", err)
	}
	return nil
}

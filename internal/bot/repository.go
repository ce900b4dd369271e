package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrBotExists   = errors.New("bot already exists")
	ErrBotNotFound = errors.New("bot not found")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, token, name string) (Record, error) {
	now := time.Now().UTC().Truncate(time.Second)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO discord_bots (token, name, status, last_heartbeat, created_at)
		VALUES ($1, $2, 'offline', NULL, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, name, now.Unix())
	if err != nil {
		return Record{}, fmt.Errorf("insert bot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("insert bot rows affected: %w", err)
	}
	if affected == 0 {
		return Record{}, ErrBotExists
	}

	return Record{Token: token, Name: name, Status: StatusOffline, CreatedAt: now}, nil
}

func (r *Repository) Get(ctx context.Context, token string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, name, status, last_heartbeat, created_at
		FROM discord_bots
		WHERE token = $1
	`, token)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrBotNotFound
		}
		return Record{}, fmt.Errorf("query bot: %w", err)
	}

	return rec, nil
}

func (r *Repository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, name, status, last_heartbeat, created_at
		FROM discord_bots
		ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bots: %w", err)
	}

	return records, nil
}

// SetStatus records a status change and stamps the heartbeat.
func (r *Repository) SetStatus(ctx context.Context, token string, status Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE discord_bots
		SET status = $2, last_heartbeat = $3
		WHERE token = $1
	`, token, string(status), at.UTC().Unix())
	if err != nil {
		return fmt.Errorf("update bot status: %w", err)
	}

	return requireAffected(res, "update bot status")
}

func (r *Repository) Touch(ctx context.Context, token string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE discord_bots
		SET last_heartbeat = $2
		WHERE token = $1
	`, token, at.UTC().Unix())
	if err != nil {
		return fmt.Errorf("update bot heartbeat: %w", err)
	}

	return requireAffected(res, "update bot heartbeat")
}

func (r *Repository) Delete(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM discord_bots WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}

	return requireAffected(res, "delete bot")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		heartbeat sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&rec.Token, &rec.Name, &rec.Status, &heartbeat, &createdAt); err != nil {
		return Record{}, err
	}

	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if heartbeat.Valid {
		value := time.Unix(heartbeat.Int64, 0).UTC()
		rec.LastHeartbeat = &value
	}

	return rec, nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrBotNotFound
	}
	return nil
}

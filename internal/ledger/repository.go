package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO uids (uid, expiry)
		VALUES ($1, $2)
		ON CONFLICT (uid)
		DO UPDATE SET expiry = EXCLUDED.expiry
	`, rec.UID, rec.Expiry)
	if err != nil {
		return fmt.Errorf("upsert uid: %w", err)
	}

	return nil
}

func (r *Repository) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO uids (uid, expiry)
		VALUES ($1, $2)
		ON CONFLICT (uid) DO NOTHING
	`, rec.UID, rec.Expiry)
	if err != nil {
		return false, fmt.Errorf("insert uid: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert uid rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *Repository) Delete(ctx context.Context, uid string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uids WHERE uid = $1`, uid)
	if err != nil {
		return false, fmt.Errorf("delete uid: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete uid rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *Repository) Get(ctx context.Context, uid string) (Record, error) {
	var rec Record
	err := r.db.QueryRowContext(ctx, `
		SELECT uid, expiry
		FROM uids
		WHERE uid = $1
	`, uid).Scan(&rec.UID, &rec.Expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrUIDNotFound
		}
		return Record{}, fmt.Errorf("query uid: %w", err)
	}

	return rec, nil
}

func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	return r.list(ctx, `SELECT uid, expiry FROM uids ORDER BY uid ASC`)
}

func (r *Repository) ListActive(ctx context.Context, now int64) ([]Record, error) {
	return r.list(ctx, `SELECT uid, expiry FROM uids WHERE expiry > $1 ORDER BY uid ASC`, now)
}

func (r *Repository) ListExpired(ctx context.Context, now int64) ([]Record, error) {
	return r.list(ctx, `SELECT uid, expiry FROM uids WHERE expiry <= $1 ORDER BY uid ASC`, now)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query uids: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.UID, &rec.Expiry); err != nil {
			return nil, fmt.Errorf("scan uid: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uids: %w", err)
	}

	return records, nil
}

func (r *Repository) DeleteExpired(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uids WHERE expiry <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired uids: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired uids rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uids`)
	if err != nil {
		return 0, fmt.Errorf("delete all uids: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("all uids rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) Stats(ctx context.Context, now int64) (Stats, error) {
	var stats Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN expiry > $1 THEN 1 ELSE 0 END), 0)
		FROM uids
	`, now).Scan(&stats.Total, &stats.Active)
	if err != nil {
		return Stats{}, fmt.Errorf("query uid stats: %w", err)
	}
	stats.Expired = stats.Total - stats.Active

	return stats, nil
}

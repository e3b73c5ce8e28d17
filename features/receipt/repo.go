package receipt

import (
	"context"
	"database/sql"
	"encoding/json"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ExistsByHash(ctx context.Context, userID, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM receipts WHERE user_id = $1 AND content_hash = $2 AND deleted_at IS NULL)`
	err := r.db.QueryRowContext(ctx, query, userID, hash).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) Save(ctx context.Context, rcpt *Receipt) error {
	items, err := json.Marshal(rcpt.LineItems)
	if err != nil {
		return err
	}
	query := `INSERT INTO receipts (user_id, status, merchant, issued_at, total, line_items, raw_text, image_path, content_hash, confidence, needs_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`
	return r.db.QueryRowContext(ctx, query,
		rcpt.UserID, rcpt.Status, nullIfEmpty(rcpt.Merchant), rcpt.IssuedAt, rcpt.Total,
		items, rcpt.RawText, rcpt.ImagePath, rcpt.ContentHash, rcpt.Confidence, rcpt.NeedsReview,
	).Scan(&rcpt.ID)
}

func (r *PostgresRepo) Get(ctx context.Context, id, userID string) (*Receipt, error) {
	rcpt := &Receipt{}
	var merchant sql.NullString
	var items []byte
	query := `SELECT id, user_id, status, merchant, issued_at, total, line_items, raw_text, image_path, confidence, needs_review
		FROM receipts WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&rcpt.ID, &rcpt.UserID, &rcpt.Status, &merchant, &rcpt.IssuedAt, &rcpt.Total,
		&items, &rcpt.RawText, &rcpt.ImagePath, &rcpt.Confidence, &rcpt.NeedsReview,
	)
	if err != nil {
		return nil, err
	}
	rcpt.Merchant = merchant.String
	if len(items) > 0 {
		if err := json.Unmarshal(items, &rcpt.LineItems); err != nil {
			return nil, err
		}
	}
	return rcpt, nil
}

func (r *PostgresRepo) List(ctx context.Context, userID string) ([]Receipt, error) {
	query := `SELECT id, user_id, status, merchant, issued_at, total, confidence, needs_review
		FROM receipts WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var rcpt Receipt
		var merchant sql.NullString
		if err := rows.Scan(&rcpt.ID, &rcpt.UserID, &rcpt.Status, &merchant, &rcpt.IssuedAt,
			&rcpt.Total, &rcpt.Confidence, &rcpt.NeedsReview); err != nil {
			return nil, err
		}
		rcpt.Merchant = merchant.String
		receipts = append(receipts, rcpt)
	}
	return receipts, rows.Err()
}

func (r *PostgresRepo) UpdateExtraction(ctx context.Context, rcpt *Receipt) error {
	items, err := json.Marshal(rcpt.LineItems)
	if err != nil {
		return err
	}
	query := `UPDATE receipts SET status = $1, merchant = $2, issued_at = $3, total = $4, line_items = $5,
		raw_text = $6, confidence = $7, needs_review = $8, updated_at = NOW() WHERE id = $9`
	_, err = r.db.ExecContext(ctx, query,
		rcpt.Status, nullIfEmpty(rcpt.Merchant), rcpt.IssuedAt, rcpt.Total, items,
		rcpt.RawText, rcpt.Confidence, rcpt.NeedsReview, rcpt.ID,
	)
	return err
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id, userID string) error {
	query := `UPDATE receipts SET deleted_at = NOW() WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM receipts WHERE deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

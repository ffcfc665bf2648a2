package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/WIREMI/wiremi-auth/internal/model"
)

// APITokenRepo persists long-lived integration credentials. Raw tokens are
// never stored; lookup is by SHA-256 hash.
type APITokenRepo interface {
	Create(ctx context.Context, t *model.APIToken) error
	GetByHash(ctx context.Context, tokenHash string) (*model.APIToken, error)
	Delete(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]model.APIToken, error)
}

// SQLAPITokenRepo implements APITokenRepo over the 'api_tokens' table.
// Scopes are stored as a comma-joined string; the scope vocabulary is a
// closed set so no scope can contain a comma.
type SQLAPITokenRepo struct{ DB *sql.DB }

func NewAPITokenRepo(db *sql.DB) *SQLAPITokenRepo { return &SQLAPITokenRepo{DB: db} }

func (r *SQLAPITokenRepo) Create(ctx context.Context, t *model.APIToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO api_tokens (id,name,token_hash,scopes,created_by,expires_at) VALUES (?,?,?,?,?,?)",
		t.ID, t.Name, t.TokenHash, strings.Join(t.Scopes, ","), t.CreatedBy, t.ExpiresAt)
	return err
}

func (r *SQLAPITokenRepo) GetByHash(ctx context.Context, tokenHash string) (*model.APIToken, error) {
	var (
		t          model.APIToken
		scopes     string
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,token_hash,scopes,created_by,expires_at,last_used_at,created_at FROM api_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.Name, &t.TokenHash, &scopes, &t.CreatedBy, &expiresAt, &lastUsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if scopes != "" {
		t.Scopes = strings.Split(scopes, ",")
	}
	if expiresAt.Valid {
		ts := expiresAt.Time
		t.ExpiresAt = &ts
	}
	if lastUsedAt.Valid {
		ts := lastUsedAt.Time
		t.LastUsedAt = &ts
	}
	return &t, nil
}

func (r *SQLAPITokenRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM api_tokens WHERE id=?", id)
	return err
}

func (r *SQLAPITokenRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE api_tokens SET last_used_at=? WHERE id=?", at, id)
	return err
}

func (r *SQLAPITokenRepo) List(ctx context.Context) ([]model.APIToken, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,name,token_hash,scopes,created_by,expires_at,last_used_at,created_at FROM api_tokens ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.APIToken
	for rows.Next() {
		var (
			t          model.APIToken
			scopes     string
			expiresAt  sql.NullTime
			lastUsedAt sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.TokenHash, &scopes, &t.CreatedBy, &expiresAt, &lastUsedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		if scopes != "" {
			t.Scopes = strings.Split(scopes, ",")
		}
		if expiresAt.Valid {
			ts := expiresAt.Time
			t.ExpiresAt = &ts
		}
		if lastUsedAt.Valid {
			ts := lastUsedAt.Time
			t.LastUsedAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

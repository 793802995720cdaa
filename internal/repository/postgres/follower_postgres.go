package postgres

import (
	"context"
	"database/sql"

	"dbprov/internal/model"
	"dbprov/internal/repository"
)

// FollowerPostgres is a PostgreSQL implementation of repository.FollowerRepository.
type FollowerPostgres struct {
	db *sql.DB
}

// NewFollowerPostgres creates a new FollowerPostgres repository.
func NewFollowerPostgres(db *sql.DB) *FollowerPostgres {
	return &FollowerPostgres{db: db}
}

var _ repository.FollowerRepository = (*FollowerPostgres)(nil)

const followerColumns = `id, ident, backend, host_key, main_url, follower_url, created_at`

// Create inserts a follower row and returns the stored record.
func (r *FollowerPostgres) Create(ctx context.Context, f *model.Follower) (*model.Follower, error) {
	const q = `
		INSERT INTO followers (id, ident, backend, host_key, main_url, follower_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + followerColumns
	row := r.db.QueryRowContext(ctx, q,
		f.ID,
		f.Ident,
		f.Backend,
		f.HostKey,
		f.MainURL,
		f.FollowerURL,
		f.CreatedAt,
	)
	var out model.Follower
	if err := scanFollower(row, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns all follower records.
func (r *FollowerPostgres) List(ctx context.Context) ([]model.Follower, error) {
	const q = `
		SELECT ` + followerColumns + `
		FROM followers
		ORDER BY created_at DESC, id DESC
	`
	return r.query(ctx, q)
}

// ListByIdent returns the follower records of ident.
func (r *FollowerPostgres) ListByIdent(ctx context.Context, ident string) ([]model.Follower, error) {
	const q = `
		SELECT ` + followerColumns + `
		FROM followers
		WHERE ident = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.query(ctx, q, ident)
}

// DeleteByIdent removes every record of ident.
func (r *FollowerPostgres) DeleteByIdent(ctx context.Context, ident string) (int64, error) {
	const q = `DELETE FROM followers WHERE ident = $1`
	res, err := r.db.ExecContext(ctx, q, ident)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes the record with the given ID.
func (r *FollowerPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM followers WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

func (r *FollowerPostgres) query(ctx context.Context, q string, args ...any) ([]model.Follower, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Follower, 0)
	for rows.Next() {
		var f model.Follower
		if err := scanFollower(rows, &f); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFollower(s scanner, f *model.Follower) error {
	return s.Scan(
		&f.ID,
		&f.Ident,
		&f.Backend,
		&f.HostKey,
		&f.MainURL,
		&f.FollowerURL,
		&f.CreatedAt,
	)
}

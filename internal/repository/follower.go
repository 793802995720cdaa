package repository

import (
	"context"

	"dbprov/internal/model"
)

// FollowerRepository defines data access for follower records.
type FollowerRepository interface {
	// Create inserts a follower record and returns the stored row.
	Create(ctx context.Context, f *model.Follower) (*model.Follower, error)

	// List returns every follower record, newest first.
	List(ctx context.Context) ([]model.Follower, error)

	// ListByIdent returns the records of one follower ident across backends.
	ListByIdent(ctx context.Context, ident string) ([]model.Follower, error)

	// DeleteByIdent removes the records of ident and reports how many were removed.
	DeleteByIdent(ctx context.Context, ident string) (int64, error)

	// Delete removes one record by ID. A missing row is not an error.
	Delete(ctx context.Context, id string) error
}

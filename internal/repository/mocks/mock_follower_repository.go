package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dbprov/internal/model"
	"dbprov/internal/repository"
)

type MockFollowerRepository struct {
	mock.Mock
}

var _ repository.FollowerRepository = (*MockFollowerRepository)(nil)

func (m *MockFollowerRepository) Create(ctx context.Context, f *model.Follower) (*model.Follower, error) {
	args := m.Called(ctx, f)
	if fn, ok := args.Get(0).(func(context.Context, *model.Follower) *model.Follower); ok {
		return fn(ctx, f), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Follower), args.Error(1)
}

func (m *MockFollowerRepository) List(ctx context.Context) ([]model.Follower, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Follower), args.Error(1)
}

func (m *MockFollowerRepository) ListByIdent(ctx context.Context, ident string) ([]model.Follower, error) {
	args := m.Called(ctx, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Follower), args.Error(1)
}

func (m *MockFollowerRepository) DeleteByIdent(ctx context.Context, ident string) (int64, error) {
	args := m.Called(ctx, ident)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFollowerRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

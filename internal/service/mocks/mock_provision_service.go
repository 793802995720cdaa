package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"dbprov/internal/model"
	"dbprov/internal/service"
)

type MockProvisionService struct {
	mock.Mock
}

var _ service.ProvisionService = (*MockProvisionService)(nil)

func (m *MockProvisionService) ParseURL(ctx context.Context, raw string) (*model.URLInfo, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.URLInfo), args.Error(1)
}

func (m *MockProvisionService) ExpandURLs(ctx context.Context, urls, drivers []string) ([]model.URLInfo, error) {
	args := m.Called(ctx, urls, drivers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.URLInfo), args.Error(1)
}

func (m *MockProvisionService) Check(ctx context.Context, raw, ident string) (*model.CheckResult, error) {
	args := m.Called(ctx, raw, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CheckResult), args.Error(1)
}

func (m *MockProvisionService) CreateFollower(ctx context.Context, ident string) ([]model.Follower, error) {
	args := m.Called(ctx, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Follower), args.Error(1)
}

func (m *MockProvisionService) DropFollower(ctx context.Context, ident string) error {
	args := m.Called(ctx, ident)
	return args.Error(0)
}

func (m *MockProvisionService) ListFollowers(ctx context.Context, ident string) ([]model.Follower, error) {
	args := m.Called(ctx, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Follower), args.Error(1)
}

func (m *MockProvisionService) Reap(ctx context.Context) (*service.ReapResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReapResult), args.Error(1)
}

func (m *MockProvisionService) ReapIdents(ctx context.Context, r io.Reader) (*service.ReapResult, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReapResult), args.Error(1)
}

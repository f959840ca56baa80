package mocks

import (
	"context"
	"io"

	"tagme/internal/model"
	"tagme/internal/service"
	"tagme/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockItemService struct {
	mock.Mock
}

func (m *MockItemService) Paginate(ctx context.Context, req service.PageRequest) (*service.ItemPage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ItemPage), args.Error(1)
}

func (m *MockItemService) FindByID(ctx context.Context, id string) (*model.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Create(ctx context.Context, in service.CreateItemInput) (*model.Item, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Update(ctx context.Context, id string, in service.UpdateItemInput) (*model.Item, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Item), args.Error(1)
}

func (m *MockItemService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockItemService) GetPhoto(ctx context.Context, filename string) (io.ReadCloser, storage.ObjectInfo, error) {
	args := m.Called(ctx, filename)
	if args.Get(0) == nil {
		return nil, args.Get(1).(storage.ObjectInfo), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(storage.ObjectInfo), args.Error(2)
}

package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"testing"

	"tagme/internal/model"
	"tagme/internal/repository"
	repoMocks "tagme/internal/repository/mocks"
	"tagme/internal/storage"
	storeMocks "tagme/internal/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testPhoto(t *testing.T) io.Reader {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{0, 128, 0, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test photo: %v", err)
	}
	return &buf
}

func isPhotoKey(key string) bool {
	return strings.HasPrefix(key, "items/") && strings.HasSuffix(key, ".jpg")
}

func strPtr(s string) *string { return &s }

func TestItemService_Paginate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		req        PageRequest
		setupMocks func(mRepo *repoMocks.MockItemRepository)
		wantErr    bool
		checkRes   func(t *testing.T, res *ItemPage)
	}{
		{
			name: "happy path",
			req:  PageRequest{Page: 1, Limit: 5},
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("List", ctx, repository.PageQuery{Limit: 5, Offset: 0}).
					Return(&repository.PageResult[model.Item]{
						Items: []model.Item{{ID: "2"}, {ID: "1"}},
						Total: 2,
					}, nil)
			},
			checkRes: func(t *testing.T, res *ItemPage) {
				assert.Len(t, res.Items, 2)
				assert.Equal(t, 2, res.Meta.TotalItems)
				assert.Equal(t, 2, res.Meta.ItemCount)
				assert.Equal(t, 5, res.Meta.ItemsPerPage)
				assert.Equal(t, 1, res.Meta.TotalPages)
				assert.Equal(t, 1, res.Meta.CurrentPage)
			},
		},
		{
			name: "last partial page of six items",
			req:  PageRequest{Page: 2, Limit: 5},
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("List", ctx, repository.PageQuery{Limit: 5, Offset: 5}).
					Return(&repository.PageResult[model.Item]{
						Items: []model.Item{{ID: "1"}},
						Total: 6,
					}, nil)
			},
			checkRes: func(t *testing.T, res *ItemPage) {
				assert.Equal(t, 1, res.Meta.ItemCount)
				assert.Equal(t, 6, res.Meta.TotalItems)
				assert.Equal(t, 2, res.Meta.TotalPages)
				assert.Equal(t, 2, res.Meta.CurrentPage)
			},
		},
		{
			name: "title filter drives count and page",
			req:  PageRequest{Page: 1, Limit: 10, Title: "chair"},
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("List", ctx, repository.PageQuery{Limit: 10, Offset: 0, Title: "chair"}).
					Return(&repository.PageResult[model.Item]{
						Items: []model.Item{{ID: "1", Title: "Chair"}},
						Total: 1,
					}, nil)
			},
			checkRes: func(t *testing.T, res *ItemPage) {
				assert.Equal(t, 1, res.Meta.TotalItems)
				assert.Equal(t, 1, res.Meta.TotalPages)
			},
		},
		{
			name: "zero and negative inputs normalized to defaults",
			req:  PageRequest{Page: 0, Limit: -1},
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("List", ctx, repository.PageQuery{Limit: 10, Offset: 0}).
					Return(&repository.PageResult[model.Item]{Items: []model.Item{}, Total: 0}, nil)
			},
			checkRes: func(t *testing.T, res *ItemPage) {
				assert.Equal(t, 10, res.Meta.ItemsPerPage)
				assert.Equal(t, 1, res.Meta.CurrentPage)
				assert.Equal(t, 0, res.Meta.TotalPages)
			},
		},
		{
			name: "oversized limit clamped",
			req:  PageRequest{Page: 1, Limit: 5000},
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("List", ctx, repository.PageQuery{Limit: 100, Offset: 0}).
					Return(&repository.PageResult[model.Item]{Items: []model.Item{}, Total: 0}, nil)
			},
			checkRes: func(t *testing.T, res *ItemPage) {
				assert.Equal(t, 100, res.Meta.ItemsPerPage)
			},
		},
		{
			name: "repository error",
			req:  PageRequest{Page: 1, Limit: 10},
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("List", ctx, mock.Anything).Return(nil, errors.New("db fail"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockItemRepository)
			svc := NewItemService(nil, mRepo, PageConfig{})

			tt.setupMocks(mRepo)

			res, err := svc.Paginate(ctx, tt.req)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				if tt.checkRes != nil {
					tt.checkRes(t, res)
				}
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestItemService_FindByID(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		id         string
		setupMocks func(mRepo *repoMocks.MockItemRepository)
		wantErr    error
	}{
		{
			name: "happy path",
			id:   "valid-id",
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "valid-id").Return(&model.Item{ID: "valid-id"}, nil)
			},
		},
		{
			name:       "validation - empty id",
			id:         "",
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name: "not found - mapping sql.ErrNoRows",
			id:   "missing-id",
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "missing-id").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "generic repository error",
			id:   "error-id",
			setupMocks: func(mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "error-id").Return(nil, errors.New("db fail"))
			},
			wantErr: errors.New("db fail"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mRepo := new(repoMocks.MockItemRepository)
			svc := NewItemService(nil, mRepo, PageConfig{})

			tt.setupMocks(mRepo)

			item, err := svc.FindByID(ctx, tt.id)

			if tt.wantErr != nil {
				if errors.Is(tt.wantErr, ErrIDRequired) || errors.Is(tt.wantErr, ErrNotFound) {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.Error(t, err)
				}
				assert.Nil(t, item)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, item)
				assert.Equal(t, tt.id, item.ID)
			}
			mRepo.AssertExpectations(t)
		})
	}
}

func TestItemService_FindByID_Idempotent(t *testing.T) {
	ctx := context.Background()
	mRepo := new(repoMocks.MockItemRepository)
	svc := NewItemService(nil, mRepo, PageConfig{})

	stored := &model.Item{ID: "id-1", Title: "Chair", Description: "Wooden", Photo: "a.jpg"}
	mRepo.On("FindByID", ctx, "id-1").Return(stored, nil).Twice()

	first, err := svc.FindByID(ctx, "id-1")
	assert.NoError(t, err)
	second, err := svc.FindByID(ctx, "id-1")
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	mRepo.AssertExpectations(t)
}

func TestItemService_Create(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		input      func(t *testing.T) CreateItemInput
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository)
		wantErr    error
		wantErrMsg string
	}{
		{
			name: "happy path",
			input: func(t *testing.T) CreateItemInput {
				return CreateItemInput{Title: "Chair", Description: "A wooden chair", Photo: testPhoto(t)}
			},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mStore.On("Put", ctx, mock.MatchedBy(isPhotoKey), mock.Anything, mock.MatchedBy(func(opt storage.PutObjectOptions) bool {
					return opt.ContentType == "image/jpeg" && opt.Size > 0
				})).Return(storage.ObjectInfo{}, nil)

				mRepo.On("Create", ctx, mock.MatchedBy(func(item *model.Item) bool {
					return item.ID != "" && item.Title == "Chair" &&
						strings.HasSuffix(item.Photo, ".jpg") && !item.CreatedAt.IsZero()
				})).Return(&model.Item{ID: "gen-id", Title: "Chair", Photo: "gen.jpg"}, nil)
			},
		},
		{
			name: "validation - missing photo",
			input: func(t *testing.T) CreateItemInput {
				return CreateItemInput{Title: "Chair", Description: "A wooden chair"}
			},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {},
			wantErr:    ErrPhotoRequired,
		},
		{
			name: "transform failure - corrupt image, nothing stored",
			input: func(t *testing.T) CreateItemInput {
				return CreateItemInput{Title: "Chair", Description: "D", Photo: strings.NewReader("not an image")}
			},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {},
			wantErr:    ErrPhotoInvalid,
		},
		{
			name: "storage error",
			input: func(t *testing.T) CreateItemInput {
				return CreateItemInput{Title: "Chair", Description: "D", Photo: testPhoto(t)}
			},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{}, errors.New("storage fail"))
			},
			wantErrMsg: "upload to storage: storage fail",
		},
		{
			name: "repository error with successful rollback",
			input: func(t *testing.T) CreateItemInput {
				return CreateItemInput{Title: "Chair", Description: "D", Photo: testPhoto(t)}
			},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{}, nil)
				mRepo.On("Create", ctx, mock.Anything).
					Return(nil, errors.New("db fail"))
				mStore.On("Delete", ctx, mock.MatchedBy(isPhotoKey)).Return(nil)
			},
			wantErrMsg: "db save failed: db fail",
		},
		{
			name: "repository error with failed rollback",
			input: func(t *testing.T) CreateItemInput {
				return CreateItemInput{Title: "Chair", Description: "D", Photo: testPhoto(t)}
			},
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
					Return(storage.ObjectInfo{}, nil)
				mRepo.On("Create", ctx, mock.Anything).
					Return(nil, errors.New("db fail"))
				mStore.On("Delete", ctx, mock.Anything).Return(errors.New("delete fail"))
			},
			wantErrMsg: "rollback delete failed: delete fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockItemRepository)
			svc := NewItemService(mStore, mRepo, PageConfig{})

			tt.setupMocks(mStore, mRepo)

			item, err := svc.Create(ctx, tt.input(t))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else if tt.wantErrMsg != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, item)
			}

			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestItemService_Update(t *testing.T) {
	ctx := context.Background()

	existing := func() *model.Item {
		return &model.Item{ID: "id-1", Title: "Old title", Description: "Old description", Photo: "old.jpg"}
	}

	t.Run("present fields overwrite, absent fields preserved", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockItemRepository)
		svc := NewItemService(mStore, mRepo, PageConfig{})

		mRepo.On("FindByID", ctx, "id-1").Return(existing(), nil)
		mRepo.On("Update", ctx, mock.MatchedBy(func(item *model.Item) bool {
			return item.Title == "New title" && item.Description == "Old description" && item.Photo == "old.jpg"
		})).Return(&model.Item{ID: "id-1", Title: "New title", Description: "Old description", Photo: "old.jpg"}, nil)

		updated, err := svc.Update(ctx, "id-1", UpdateItemInput{Title: strPtr("New title")})

		assert.NoError(t, err)
		assert.Equal(t, "New title", updated.Title)
		assert.Equal(t, "Old description", updated.Description)
		mStore.AssertExpectations(t)
		mRepo.AssertExpectations(t)
	})

	t.Run("new photo supersedes and deletes the old object", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockItemRepository)
		svc := NewItemService(mStore, mRepo, PageConfig{})

		mRepo.On("FindByID", ctx, "id-1").Return(existing(), nil)
		mStore.On("Put", ctx, mock.MatchedBy(isPhotoKey), mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, nil)
		mStore.On("Delete", ctx, "items/old.jpg").Return(nil)
		mRepo.On("Update", ctx, mock.MatchedBy(func(item *model.Item) bool {
			return item.Photo != "old.jpg" && strings.HasSuffix(item.Photo, ".jpg")
		})).Return(&model.Item{ID: "id-1", Photo: "new.jpg"}, nil)

		updated, err := svc.Update(ctx, "id-1", UpdateItemInput{Photo: testPhoto(t)})

		assert.NoError(t, err)
		assert.Equal(t, "new.jpg", updated.Photo)
		mStore.AssertExpectations(t)
		mRepo.AssertExpectations(t)
	})

	t.Run("cleanup failure does not fail the update", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockItemRepository)
		svc := NewItemService(mStore, mRepo, PageConfig{})

		mRepo.On("FindByID", ctx, "id-1").Return(existing(), nil)
		mStore.On("Put", ctx, mock.Anything, mock.Anything, mock.Anything).
			Return(storage.ObjectInfo{}, nil)
		mStore.On("Delete", ctx, "items/old.jpg").Return(errors.New("already gone"))
		mRepo.On("Update", ctx, mock.Anything).
			Return(&model.Item{ID: "id-1", Photo: "new.jpg"}, nil)

		_, err := svc.Update(ctx, "id-1", UpdateItemInput{Photo: testPhoto(t)})

		assert.NoError(t, err)
		mStore.AssertExpectations(t)
		mRepo.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mRepo := new(repoMocks.MockItemRepository)
		svc := NewItemService(nil, mRepo, PageConfig{})

		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)

		_, err := svc.Update(ctx, "missing", UpdateItemInput{Title: strPtr("T")})

		assert.ErrorIs(t, err, ErrNotFound)
		mRepo.AssertExpectations(t)
	})

	t.Run("transform failure leaves current photo untouched", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		mRepo := new(repoMocks.MockItemRepository)
		svc := NewItemService(mStore, mRepo, PageConfig{})

		mRepo.On("FindByID", ctx, "id-1").Return(existing(), nil)

		_, err := svc.Update(ctx, "id-1", UpdateItemInput{Photo: strings.NewReader("junk")})

		assert.ErrorIs(t, err, ErrPhotoInvalid)
		mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mStore.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
		mRepo.AssertExpectations(t)
	})

	t.Run("row vanished between read and write", func(t *testing.T) {
		mRepo := new(repoMocks.MockItemRepository)
		svc := NewItemService(nil, mRepo, PageConfig{})

		mRepo.On("FindByID", ctx, "id-1").Return(existing(), nil)
		mRepo.On("Update", ctx, mock.Anything).Return(nil, sql.ErrNoRows)

		_, err := svc.Update(ctx, "id-1", UpdateItemInput{Title: strPtr("T")})

		assert.ErrorIs(t, err, ErrNotFound)
		mRepo.AssertExpectations(t)
	})
}

func TestItemService_Delete(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		id         string
		setupMocks func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository)
		wantErr    error
		notFound   bool
	}{
		{
			name: "happy path with photo cleanup",
			id:   "valid-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "valid-id").Return(&model.Item{ID: "valid-id", Photo: "a.jpg"}, nil)
				mStore.On("Delete", ctx, "items/a.jpg").Return(nil)
				mRepo.On("Delete", ctx, "valid-id").Return(nil)
			},
		},
		{
			name: "photo cleanup failure is best-effort",
			id:   "valid-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "valid-id").Return(&model.Item{ID: "valid-id", Photo: "a.jpg"}, nil)
				mStore.On("Delete", ctx, "items/a.jpg").Return(errors.New("object missing"))
				mRepo.On("Delete", ctx, "valid-id").Return(nil)
			},
		},
		{
			name:       "validation - empty id",
			id:         "",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {},
			wantErr:    ErrIDRequired,
		},
		{
			name: "not found",
			id:   "missing-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "missing-id").Return(nil, sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "record store failure is not reported as NotFound",
			id:   "repo-fail-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "repo-fail-id").Return(&model.Item{ID: "repo-fail-id", Photo: "a.jpg"}, nil)
				mStore.On("Delete", ctx, "items/a.jpg").Return(nil)
				mRepo.On("Delete", ctx, "repo-fail-id").Return(errors.New("db fail"))
			},
			wantErr: errors.New("db fail"),
		},
		{
			name: "lookup failure is not reported as NotFound",
			id:   "lookup-fail-id",
			setupMocks: func(mStore *storeMocks.MockStorage, mRepo *repoMocks.MockItemRepository) {
				mRepo.On("FindByID", ctx, "lookup-fail-id").Return(nil, errors.New("db down"))
			},
			wantErr: errors.New("db down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mStore := new(storeMocks.MockStorage)
			mRepo := new(repoMocks.MockItemRepository)
			svc := NewItemService(mStore, mRepo, PageConfig{})

			tt.setupMocks(mStore, mRepo)

			err := svc.Delete(ctx, tt.id)

			if tt.wantErr != nil {
				if errors.Is(tt.wantErr, ErrIDRequired) || errors.Is(tt.wantErr, ErrNotFound) {
					assert.ErrorIs(t, err, tt.wantErr)
				} else {
					assert.Error(t, err)
					assert.NotErrorIs(t, err, ErrNotFound)
					assert.Contains(t, err.Error(), tt.wantErr.Error())
				}
			} else {
				assert.NoError(t, err)
			}
			mStore.AssertExpectations(t)
			mRepo.AssertExpectations(t)
		})
	}
}

func TestItemService_GetPhoto(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		svc := NewItemService(mStore, nil, PageConfig{})

		body := io.NopCloser(strings.NewReader("jpeg bytes"))
		mStore.On("Get", ctx, "items/a.jpg").
			Return(body, storage.ObjectInfo{Key: "items/a.jpg", ContentType: "image/jpeg"}, nil)

		rc, info, err := svc.GetPhoto(ctx, "a.jpg")

		assert.NoError(t, err)
		assert.Equal(t, "image/jpeg", info.ContentType)
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "jpeg bytes", string(data))
		mStore.AssertExpectations(t)
	})

	t.Run("missing object", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		svc := NewItemService(mStore, nil, PageConfig{})

		mStore.On("Get", ctx, "items/missing.jpg").
			Return(nil, storage.ObjectInfo{}, errors.New("NoSuchKey"))

		_, _, err := svc.GetPhoto(ctx, "missing.jpg")

		assert.ErrorIs(t, err, ErrPhotoNotFound)
		mStore.AssertExpectations(t)
	})

	t.Run("traversal filenames rejected", func(t *testing.T) {
		mStore := new(storeMocks.MockStorage)
		svc := NewItemService(mStore, nil, PageConfig{})

		for _, name := range []string{"", "../secret.jpg", "a/b.jpg", "..", "dir\\evil.jpg"} {
			_, _, err := svc.GetPhoto(ctx, name)
			assert.ErrorIs(t, err, ErrInvalidFilename, "filename %q", name)
		}
		mStore.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

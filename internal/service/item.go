package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tagme/internal/imaging"
	"tagme/internal/model"
	"tagme/internal/repository"
	"tagme/internal/storage"
)

var (
	ErrIDRequired      = errors.New("id is required")
	ErrNotFound        = errors.New("item not found")
	ErrPhotoRequired   = errors.New("photo is required")
	ErrPhotoInvalid    = errors.New("invalid photo")
	ErrPhotoNotFound   = errors.New("photo not found")
	ErrInvalidFilename = errors.New("invalid photo filename")
)

// PageRequest holds client-supplied pagination parameters and an optional
// case-insensitive title filter.
type PageRequest struct {
	Page  int
	Limit int
	Title string
}

// ItemPage is the service-level DTO for paginated items.
type ItemPage struct {
	Items []model.Item         `json:"items"`
	Meta  model.PaginationMeta `json:"meta"`
}

// CreateItemInput carries the fields required to create an item.
// Photo is the raw uploaded image; it is normalized before storage.
type CreateItemInput struct {
	Title       string
	Description string
	Photo       io.Reader
}

// UpdateItemInput carries optional fields for a partial update.
// Nil pointer fields are left unchanged; the service applies only present
// fields instead of relying on storage-layer partial-update semantics.
type UpdateItemInput struct {
	Title       *string
	Description *string
	Photo       io.Reader
}

// PageConfig bounds pagination parameters.
type PageConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (c *PageConfig) normalize() {
	if c.DefaultPageSize < 1 {
		c.DefaultPageSize = 10
	}
	if c.MaxPageSize < 1 {
		c.MaxPageSize = 100
	}
}

// ItemService defines the use cases for handling items. It owns the
// invariant that an item references at most one live photo object, and that
// replacing or removing an item cleans up the superseded object.
type ItemService interface {
	// Paginate returns one page of items, newest first, with pagination
	// metadata computed under the same title filter as the page query.
	Paginate(ctx context.Context, req PageRequest) (*ItemPage, error)

	// FindByID returns a single item by its ID.
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// Create normalizes the uploaded photo, stores it, and persists a new
	// item referencing the stored object. Storage is rolled back if the
	// record save fails.
	Create(ctx context.Context, in CreateItemInput) (*model.Item, error)

	// Update applies the present fields of in to an existing item. A new
	// photo supersedes the old object, which is deleted best-effort.
	Update(ctx context.Context, id string, in UpdateItemInput) (*model.Item, error)

	// Delete removes the item record and best-effort deletes its photo object.
	Delete(ctx context.Context, id string) error

	// GetPhoto streams a stored photo by filename.
	GetPhoto(ctx context.Context, filename string) (io.ReadCloser, storage.ObjectInfo, error)
}

// itemService is a concrete implementation of ItemService.
type itemService struct {
	store storage.Storage
	repo  repository.ItemRepository
	pages PageConfig
}

// NewItemService constructs a new ItemService.
func NewItemService(store storage.Storage, repo repository.ItemRepository, pages PageConfig) ItemService {
	pages.normalize()
	return &itemService{store: store, repo: repo, pages: pages}
}

// photoKey maps a stored filename to its object store key.
func photoKey(filename string) string {
	return filepath.ToSlash(filepath.Join("items", filename))
}

func (s *itemService) Paginate(ctx context.Context, req PageRequest) (*ItemPage, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 {
		req.Limit = s.pages.DefaultPageSize
	}
	if req.Limit > s.pages.MaxPageSize {
		req.Limit = s.pages.MaxPageSize
	}

	offset := (req.Page - 1) * req.Limit
	res, err := s.repo.List(ctx, repository.PageQuery{
		Limit:  req.Limit,
		Offset: offset,
		Title:  req.Title,
	})
	if err != nil {
		return nil, err
	}

	totalPages := (res.Total + req.Limit - 1) / req.Limit

	return &ItemPage{
		Items: res.Items,
		Meta: model.PaginationMeta{
			TotalItems:   res.Total,
			ItemCount:    len(res.Items),
			ItemsPerPage: req.Limit,
			TotalPages:   totalPages,
			CurrentPage:  req.Page,
		},
	}, nil
}

// FindByID returns an item by ID.
func (s *itemService) FindByID(ctx context.Context, id string) (*model.Item, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *itemService) Create(ctx context.Context, in CreateItemInput) (*model.Item, error) {
	if in.Photo == nil {
		return nil, ErrPhotoRequired
	}

	processed, err := imaging.Process(in.Photo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPhotoInvalid, err)
	}

	// Collision-free stored filename; output is always JPEG.
	filename := uuid.New().String() + ".jpg"
	key := photoKey(filename)

	if _, err := s.store.Put(ctx, key, bytes.NewReader(processed.Data), storage.PutObjectOptions{
		Size:        int64(len(processed.Data)),
		ContentType: processed.MIME,
	}); err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	item := &model.Item{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		Photo:       filename,
		CreatedAt:   time.Now().UTC(),
	}
	stored, err := s.repo.Create(ctx, item)
	if err != nil {
		// Rollback: delete the object from storage
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return stored, nil
}

func (s *itemService) Update(ctx context.Context, id string, in UpdateItemInput) (*model.Item, error) {
	if id == "" {
		return nil, ErrIDRequired
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if in.Photo != nil {
		processed, err := imaging.Process(in.Photo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPhotoInvalid, err)
		}

		filename := uuid.New().String() + ".jpg"
		if _, err := s.store.Put(ctx, photoKey(filename), bytes.NewReader(processed.Data), storage.PutObjectOptions{
			Size:        int64(len(processed.Data)),
			ContentType: processed.MIME,
		}); err != nil {
			return nil, fmt.Errorf("upload to storage: %w", err)
		}

		// The superseded object is cleaned up best-effort before the new
		// filename is committed.
		if existing.Photo != "" {
			s.deletePhotoObject(ctx, existing.Photo)
		}
		existing.Photo = filename
	}

	// Only present fields overwrite current values.
	if in.Title != nil {
		existing.Title = *in.Title
	}
	if in.Description != nil {
		existing.Description = *in.Description
	}

	updated, err := s.repo.Update(ctx, existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

// Delete removes the item record after scheduling best-effort cleanup of its
// photo object. Record-store failures are not reported as NotFound; only a
// genuinely missing item is.
func (s *itemService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}

	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if existing.Photo != "" {
		s.deletePhotoObject(ctx, existing.Photo)
	}

	return s.repo.Delete(ctx, id)
}

func (s *itemService) GetPhoto(ctx context.Context, filename string) (io.ReadCloser, storage.ObjectInfo, error) {
	if filename == "" || filename != path.Base(filename) ||
		strings.ContainsAny(filename, `\`) || strings.Contains(filename, "..") {
		return nil, storage.ObjectInfo{}, ErrInvalidFilename
	}

	rc, info, err := s.store.Get(ctx, photoKey(filename))
	if err != nil {
		return nil, storage.ObjectInfo{}, fmt.Errorf("%w: %v", ErrPhotoNotFound, err)
	}
	return rc, info, nil
}

// deletePhotoObject removes a superseded photo object. Cleanup is
// best-effort: a failure is logged as a warning and never fails the
// enclosing operation. It runs synchronously so tests observe a
// deterministic state.
func (s *itemService) deletePhotoObject(ctx context.Context, filename string) {
	if err := s.store.Delete(ctx, photoKey(filename)); err != nil {
		entry := map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "photo_cleanup_failed",
			"photo": filename,
			"error": err.Error(),
		}
		if b, mErr := json.Marshal(entry); mErr == nil {
			log.SetFlags(0)
			log.Println(string(b))
		}
	}
}

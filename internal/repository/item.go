package repository

import (
	"context"

	"tagme/internal/model"
)

// ItemRepository defines data access for items using SQL queries only.
// No business logic here — strictly persistence operations.
type ItemRepository interface {
	// Create inserts a new item record.
	// The caller should provide required fields (e.g., ID, CreatedAt) according to the database schema defaults.
	// Returns the stored item (may include values set by the DB).
	Create(ctx context.Context, item *model.Item) (*model.Item, error)

	// FindByID returns an item by its ID.
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// List returns a paginated list of items and the total row count under the same filter.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Item], error)

	// Update overwrites all mutable columns of an existing item and returns the stored row.
	// The caller resolves partial updates before this point; the repository never
	// interprets absent fields.
	Update(ctx context.Context, item *model.Item) (*model.Item, error)

	// Delete removes an item by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters and an optional
// case-insensitive substring filter on the item title.
type PageQuery struct {
	Limit  int
	Offset int
	Title  string
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}

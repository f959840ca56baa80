package postgres

import (
	"context"
	"database/sql"

	"tagme/internal/model"
	"tagme/internal/repository"
)

// ItemPostgres is a PostgreSQL implementation of repository.ItemRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type ItemPostgres struct {
	db *sql.DB
}

// NewItemPostgres creates a new ItemPostgres repository.
func NewItemPostgres(db *sql.DB) *ItemPostgres {
	return &ItemPostgres{db: db}
}

var _ repository.ItemRepository = (*ItemPostgres)(nil)

// Create inserts a new item row and returns the stored record.
func (r *ItemPostgres) Create(ctx context.Context, item *model.Item) (*model.Item, error) {
	const q = `
		INSERT INTO items (id, title, description, photo, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, title, description, photo, created_at
	`
	row := r.db.QueryRowContext(ctx, q,
		item.ID,
		item.Title,
		item.Description,
		item.Photo,
		item.CreatedAt,
	)
	var out model.Item
	if err := row.Scan(
		&out.ID,
		&out.Title,
		&out.Description,
		&out.Photo,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByID fetches a single item by its ID.
func (r *ItemPostgres) FindByID(ctx context.Context, id string) (*model.Item, error) {
	const q = `
		SELECT id, title, description, photo, created_at
		FROM items
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, q, id)
	var it model.Item
	if err := row.Scan(
		&it.ID,
		&it.Title,
		&it.Description,
		&it.Photo,
		&it.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

// List returns items using LIMIT/OFFSET pagination and a total count.
// The count runs under the same title filter as the page query so pagination
// metadata always describes the filtered set. An empty filter matches all rows.
// Ordering is newest-first (created_at, then id as a tiebreaker).
func (r *ItemPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Item], error) {
	pattern := "%" + pq.Title + "%"

	const qCount = `SELECT COUNT(*) FROM items WHERE title ILIKE $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, pattern).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT id, title, description, photo, created_at
		FROM items
		WHERE title ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, pattern, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(
			&it.ID,
			&it.Title,
			&it.Description,
			&it.Photo,
			&it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Item]{
		Items: items,
		Total: total,
	}, nil
}

// Update overwrites the mutable columns of an item and returns the stored row.
// Returns sql.ErrNoRows if the item does not exist.
func (r *ItemPostgres) Update(ctx context.Context, item *model.Item) (*model.Item, error) {
	const q = `
		UPDATE items
		SET title = $2, description = $3, photo = $4
		WHERE id = $1
		RETURNING id, title, description, photo, created_at
	`
	row := r.db.QueryRowContext(ctx, q,
		item.ID,
		item.Title,
		item.Description,
		item.Photo,
	)
	var out model.Item
	if err := row.Scan(
		&out.ID,
		&out.Title,
		&out.Description,
		&out.Photo,
		&out.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an item by ID. It does not return an error if the row does not exist;
// existence checks belong to the service layer.
func (r *ItemPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM items WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}

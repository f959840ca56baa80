package model

import "time"

// Item represents a titled, described, photographed record.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	// Photo names an object in the photo store; an item references at most
	// one live photo object at any time.
	Photo     string    `json:"photo"`
	CreatedAt time.Time `json:"created_at"`
}

// PaginationMeta describes a result page's position within the total
// matching set. It is derived, never persisted, and computed fresh on
// every list query.
type PaginationMeta struct {
	TotalItems   int `json:"totalItems"`
	ItemCount    int `json:"itemCount"`
	ItemsPerPage int `json:"itemsPerPage"`
	TotalPages   int `json:"totalPages"`
	CurrentPage  int `json:"currentPage"`
}

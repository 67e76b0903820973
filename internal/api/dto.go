package api

import (
	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/models"
)

// AddItemRequest is the request body for creating an item.
type AddItemRequest = models.AddItem

// EditItemRequest is the request body for a partial item update. Absent
// fields are left unchanged; empty strings clear optional fields.
type EditItemRequest struct {
	Name       *string  `json:"name,omitempty" example:"AF_XDP"`
	URL        *string  `json:"url,omitempty" example:"https://lwn.net/Articles/750845/"`
	Body       *string  `json:"body,omitempty"`
	Summary    *string  `json:"summary,omitempty"`
	Comment    *string  `json:"comment,omitempty"`
	AddTags    []string `json:"add_tags,omitempty" example:"kernel"`
	RemoveTags []string `json:"remove_tags,omitempty"`
}

// LinkRequest names the two items of a link.
type LinkRequest struct {
	A string `json:"a" validate:"required"`
	B string `json:"b" validate:"required"`
}

// ItemListResponse wraps item listings.
type ItemListResponse struct {
	Items []models.Item `json:"items" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.SearchResult `json:"results" validate:"required"`
}

// StatusResponse reports collection and daemon counters.
type StatusResponse struct {
	itemservice.Stats
	Clients int `json:"sse_clients"`
}

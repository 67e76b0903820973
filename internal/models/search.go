package models

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Snippets Snippets `json:"snippets"`
}

// Snippets holds one snippet per stored text field.
type Snippets struct {
	Name    Snippet `json:"name"`
	Body    Snippet `json:"body"`
	Comment Snippet `json:"comment"`
}

// Snippet is a short fragment of a field with the byte ranges of matched
// terms. Ranges are half-open, sorted and non-overlapping.
type Snippet struct {
	Fragment    string   `json:"fragment"`
	Highlighted [][2]int `json:"highlighted"`
}

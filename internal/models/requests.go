package models

// AddItem describes a new item.
type AddItem struct {
	Name    string   `json:"name"`
	URL     *string  `json:"url,omitempty"`
	Body    *string  `json:"body,omitempty"`
	Comment *string  `json:"comment,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// EditItem is a partial update. Nil fields are left untouched.
type EditItem struct {
	ID         string   `json:"id"`
	Name       *string  `json:"name,omitempty"`
	URL        *string  `json:"url,omitempty"`
	Body       *string  `json:"body,omitempty"`
	Summary    *string  `json:"summary,omitempty"`
	Comment    *string  `json:"comment,omitempty"`
	AddTags    []string `json:"add_tags,omitempty"`
	RemoveTags []string `json:"remove_tags,omitempty"`
}

// ListItems filters a listing. A zero Count means no limit; Tags keeps items
// carrying every listed label.
type ListItems struct {
	Count int      `json:"count,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

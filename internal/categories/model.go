package categories

// Category organises fields and concepts into a browsable tree.
type Category struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name" validate:"required,max=100"`
	Description string  `json:"description"`
	ParentID    *int64  `json:"parent_id,omitempty"`
	Order       float64 `json:"order"`
	Published   bool    `json:"published"`
}

// ListFilters represents category list filters.
type ListFilters struct {
	Search    string
	SortBy    string
	SortDir   string
	Published *bool
	ParentID  *int64
	Limit     int
	Page      int
}

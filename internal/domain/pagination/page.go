package pagination

const MaxSize = 100

// Page is one zero-based slice of an ordered result set.
type Page[T any] struct {
	Items       []T   `json:"items"`
	Page        int   `json:"page"`
	Size        int   `json:"size"`
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

// Request is a normalized page request.
type Request struct {
	Page int
	Size int
}

// NewRequest clamps page to >= 0 and size to (0, MaxSize], using
// defaultSize when size is not positive.
func NewRequest(page, size, defaultSize int) Request {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Request{Page: page, Size: size}
}

func (r Request) Offset() int {
	return r.Page * r.Size
}

// New assembles a page from the items of r and the total row count.
func New[T any](items []T, r Request, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if r.Size > 0 {
		totalPages = int((total + int64(r.Size) - 1) / int64(r.Size))
	}
	return Page[T]{
		Items:       items,
		Page:        r.Page,
		Size:        r.Size,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     r.Page+1 < totalPages,
		HasPrevious: r.Page > 0,
	}
}

// Map converts the items of p, keeping the paging metadata.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, len(p.Items))
	for i, item := range p.Items {
		out[i] = fn(item)
	}
	return Page[U]{
		Items:       out,
		Page:        p.Page,
		Size:        p.Size,
		TotalItems:  p.TotalItems,
		TotalPages:  p.TotalPages,
		HasNext:     p.HasNext,
		HasPrevious: p.HasPrevious,
	}
}

package worker

import (
	"context"
)

// Fragment is one receipt excerpt with its embedding, ready for the index.
type Fragment struct {
	Content   string
	Vector    []float32
	UserID    string
	ReceiptID string
	IssuedAt  string
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type FragmentStore interface {
	StoreFragment(ctx context.Context, f Fragment) error
	DeleteFragmentsByReceiptID(ctx context.Context, receiptID string) error
}

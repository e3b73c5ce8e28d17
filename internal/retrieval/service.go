package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"
)

// ErrScopeViolation marks a fragment crossing a user-ownership boundary.
// It is an internal invariant breach, never a user-facing condition: the
// whole result set is suppressed and the violation is logged for alerting.
var ErrScopeViolation = errors.New("retrieval scope violation")

// Fragment is a retrieved excerpt of stored receipt text, produced per
// query and never persisted.
type Fragment struct {
	ReceiptID string    `json:"receiptId"`
	UserID    string    `json:"-"`
	Content   string    `json:"content"`
	Score     float32   `json:"score"`
	IssuedAt  time.Time `json:"issuedAt"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the external fragment index. Implementations must filter
// by owner, but the service re-verifies ownership regardless.
type VectorStore interface {
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]Fragment, error)
}

type Config struct {
	TopK          int
	MinSimilarity float32
}

// Service owns the query-shaping and scoring-order contract for fragment
// retrieval. The index itself is a collaborator.
type Service struct {
	embedder Embedder
	store    VectorStore
	cfg      Config
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorStore, cfg Config, l *QueryLogger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Service{embedder: e, store: s, cfg: cfg, logger: l}
}

// Retrieve returns up to TopK fragments owned by userID, ordered by
// descending similarity, ties broken by most recent receipt. An empty
// result is a valid, common outcome, not an error.
func (s *Service) Retrieve(ctx context.Context, userID, query string) ([]Fragment, error) {
	start := time.Now()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	frags, err := s.store.Search(ctx, userID, vec, s.cfg.TopK)
	if err != nil {
		return nil, err
	}

	// Independent scope verification at the retrieval boundary. Upstream
	// filtering is not trusted: a single cross-user fragment suppresses
	// the entire result set and raises the invariant breach.
	for _, f := range frags {
		if f.UserID != userID {
			slog.ErrorContext(ctx, "cross-user fragment in retrieval result",
				"expected_user", userID, "fragment_user", f.UserID, "receipt_id", f.ReceiptID)
			return nil, ErrScopeViolation
		}
	}

	kept := frags[:0]
	for _, f := range frags {
		if f.Score >= s.cfg.MinSimilarity {
			kept = append(kept, f)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].IssuedAt.After(kept[j].IssuedAt)
	})

	if len(kept) > s.cfg.TopK {
		kept = kept[:s.cfg.TopK]
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			UserID:     userID,
			Query:      query,
			NumResults: len(kept),
			Duration:   time.Since(start),
		})
	}

	return kept, nil
}

package weaviate

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"receiptiq/backend/internal/retrieval"
	"receiptiq/backend/internal/worker"
)

const className = "ReceiptFragment"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) StoreFragment(ctx context.Context, f worker.Fragment) error {
	_, err := s.client.Data().Creator().
		WithClassName(className).
		WithProperties(map[string]interface{}{
			"content":   f.Content,
			"userId":    f.UserID,
			"receiptId": f.ReceiptID,
			"issuedAt":  f.IssuedAt,
		}).
		WithVector(f.Vector).
		Do(ctx)
	return err
}

func (s *Store) DeleteFragmentsByReceiptID(ctx context.Context, receiptID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"receiptId"}).
			WithOperator(filters.Equal).
			WithValueString(receiptID)).
		Do(ctx)
	return err
}

func (s *Store) CountFragments(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if agg, ok := data[className].([]interface{}); ok && len(agg) > 0 {
			if props, ok := agg[0].(map[string]interface{}); ok {
				if meta, ok := props["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

// Search runs a nearVector query restricted to fragments owned by userID.
// The owner filter is applied server-side; callers still re-verify the
// userId on every returned fragment.
func (s *Store) Search(ctx context.Context, userID string, vector []float32, limit int) ([]retrieval.Fragment, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	where := filters.Where().
		WithPath([]string{"userId"}).
		WithOperator(filters.Equal).
		WithValueString(userID)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "userId"},
		{Name: "receiptId"},
		{Name: "issuedAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []retrieval.Fragment
	if data, ok := res.Data["Get"].(map[string]interface{}); ok {
		if raw, ok := data[className].([]interface{}); ok {
			for _, r := range raw {
				props, ok := r.(map[string]interface{})
				if !ok {
					continue
				}
				frag := retrieval.Fragment{}

				if content, ok := props["content"].(string); ok {
					frag.Content = content
				}
				if uid, ok := props["userId"].(string); ok {
					frag.UserID = uid
				}
				if rid, ok := props["receiptId"].(string); ok {
					frag.ReceiptID = rid
				}
				if issued, ok := props["issuedAt"].(string); ok {
					if t, err := time.Parse(time.RFC3339, issued); err == nil {
						frag.IssuedAt = t
					}
				}

				// Certainty arrives as float64 or string depending on
				// the server version.
				if additional, ok := props["_additional"].(map[string]interface{}); ok {
					switch c := additional["certainty"].(type) {
					case float64:
						frag.Score = float32(c)
					case string:
						var f float64
						fmt.Sscanf(c, "%f", &f)
						frag.Score = float32(f)
					}
				}

				results = append(results, frag)
			}
		}
	}

	return results, nil
}

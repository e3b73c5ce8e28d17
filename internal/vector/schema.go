package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema checks if the ReceiptFragment class exists and creates or
// extends it as needed.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	className := "ReceiptFragment"
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "content",
			DataType: []string{"text"},
		},
		{
			Name:     "userId",
			DataType: []string{"string"}, // UUID as string (exact match)
		},
		{
			Name:     "receiptId",
			DataType: []string{"string"},
		},
		{
			Name:     "issuedAt",
			DataType: []string{"string"}, // RFC3339 timestamp
		},
	}

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "An indexed excerpt of an extracted receipt",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}

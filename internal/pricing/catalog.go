package pricing

import (
	"context"
	"errors"

	"github.com/LOME-AI/HushBox-sub006/internal/models"
	"github.com/LOME-AI/HushBox-sub006/internal/settings"
	"gorm.io/gorm"
)

// ErrModelNotFound indicates no enabled price row exists for the model.
var ErrModelNotFound = errors.New("pricing: model not found")

// Catalog resolves fee-adjusted model pricing from the database.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog constructs a Catalog backed by GORM.
func NewCatalog(db *gorm.DB) *Catalog { return &Catalog{db: db} }

// Model describes one priced model after fee adjustment.
type Model struct {
	Provider  string
	ModelID   string
	Pricing   ModelPricing
	IsPremium bool
}

// Lookup loads the enabled price row for a provider/model pair and applies
// the platform fee multiplier from runtime settings.
func (c *Catalog) Lookup(ctx context.Context, provider, modelID string) (Model, error) {
	if c == nil || c.db == nil {
		return Model{}, errors.New("pricing: nil catalog")
	}

	var row models.ModelPrice
	if errFind := c.db.WithContext(ctx).
		Where("provider = ? AND model_id = ? AND is_enabled = ?", provider, modelID, true).
		First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Model{}, ErrModelNotFound
		}
		return Model{}, errFind
	}

	adjusted := ApplyFees(ModelPricing{
		PromptCentsPerToken:     row.PromptCentsPerToken,
		CompletionCentsPerToken: row.CompletionCentsPerToken,
		ContextLength:           row.ContextLength,
	}, settings.PlatformFeeMultiplier())

	return Model{
		Provider:  row.Provider,
		ModelID:   row.ModelID,
		Pricing:   adjusted,
		IsPremium: row.IsPremium,
	}, nil
}

package activity

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/repository"
)

// Catalog reads the activity reference data.
type Catalog struct {
	activities repository.Repository[Activity]
}

type CatalogParams struct {
	fx.In
	DB *gorm.DB
}

func NewCatalog(p CatalogParams) *Catalog {
	return &Catalog{
		activities: repository.ProvideStore[Activity](p.DB),
	}
}

// Get returns the activity for the given code.
func (c *Catalog) Get(ctx context.Context, code string) (*Activity, error) {
	act, err := c.activities.FindOne(ctx, &Activity{Code: code})
	if err != nil {
		return nil, err
	}
	if act == nil {
		return nil, errutil.NotFound("activity not found", nil, errutil.WithDetails(errutil.Detail{
			Field: "code", Message: code,
		}))
	}
	return act, nil
}

// List returns the whole catalog.
func (c *Catalog) List(ctx context.Context) ([]*Activity, error) {
	return c.activities.Find(ctx, &Activity{})
}

// Seed upserts the default catalog. Existing rows keep their point values;
// reference data changes go through migrations, not the engine.
func Seed(ctx context.Context, db *gorm.DB) error {
	for _, act := range DefaultCatalog() {
		var existing Activity
		err := db.WithContext(ctx).Where("code = ?", act.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.WithContext(ctx).Create(act).Error; err != nil {
			return err
		}
	}
	return nil
}

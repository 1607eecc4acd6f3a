package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"questionnaire/internal/model"
)

// EnsureSchema creates the responses table when it does not exist yet. It is
// safe to run on every start.
func EnsureSchema(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&model.Response{}); err != nil {
		return fmt.Errorf("ensure responses table failed: %w", err)
	}
	return nil
}

package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/abschwenker/wps/internal/forecasts"
	"github.com/abschwenker/wps/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates the C-Haines tables if they are missing and registers
// every known prediction model. It is safe to run repeatedly.
func ApplySchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
	}
	for _, spec := range forecasts.All() {
		if _, err := db.Exec(ctx,
			`INSERT INTO prediction_models (name, abbreviation, projection)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (abbreviation, projection) DO NOTHING`,
			spec.Name, string(spec.Model), string(spec.Projection),
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB,
				fmt.Sprintf("failed to register prediction model %s", spec.Model), err)
		}
	}
	return nil
}

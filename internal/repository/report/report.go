// Package report exports the final migration result.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

// ObjectName is the file or object name a result is exported under.
func ObjectName(res migration.Result) string {
	return res.MigrationID + ".json"
}

func encode(res migration.Result) ([]byte, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

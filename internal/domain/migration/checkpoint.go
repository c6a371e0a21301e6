package migration

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

// Checkpoint is the resume point of an interrupted run.
// Position is the adapter cursor position of the low watermark.
// Remapped counts the id pairs recorded up to the watermark; a resume that
// cannot reload them must not continue.
type Checkpoint struct {
	Key       string    `json:"key"`
	Position  string    `json:"position"`
	Migrated  int64     `json:"migrated"`
	Failed    int64     `json:"failed"`
	Remapped  int64     `json:"remapped,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunKey identifies a migration by its endpoints and scope, so that a restarted
// run with the same arguments finds its checkpoint and id mapping.
func RunKey(source, target BackendConfig, scope record.Scope) string {
	h := xxhash.New()
	for _, s := range []string{source.String(), source.Table, target.String(), target.Table, scope.String()} {
		_, _ = h.WriteString(s)
		_, _ = h.WriteString("\x00")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

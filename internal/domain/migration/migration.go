package migration

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain"
	"github.com/kailas-cloud/vecmigrate/internal/domain/record"
)

// Kind names a backend family.
type Kind string

// Supported backend kinds.
const (
	KindPostgres  Kind = "pg"
	KindOceanBase Kind = "oceanbase"
	KindMilvus    Kind = "milvus"
)

// ParseKind validates a backend kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPostgres, KindOceanBase, KindMilvus:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownBackend, s)
	}
}

// Mode is the migration mode. Only offline (point-in-time bulk copy) exists.
type Mode string

// ModeOffline copies a snapshot of the source corpus in one pass.
const ModeOffline Mode = "offline"

// BackendConfig identifies one physical endpoint.
type BackendConfig struct {
	Kind    Kind   `json:"kind" yaml:"kind" toml:"kind"`
	Address string `json:"address" yaml:"address" toml:"address"`
	Token   string `json:"-" yaml:"token" toml:"token"`

	// Database is the Milvus database name. Relational kinds carry it in the DSN.
	Database string `json:"database,omitempty" yaml:"database" toml:"database"`
	// Table is the relational table or Milvus collection holding the vectors.
	Table string `json:"table,omitempty" yaml:"table" toml:"table"`
	// AutoID makes a Milvus collection created by Init assign its own primary keys.
	AutoID bool `json:"auto_id,omitempty" yaml:"auto_id" toml:"auto_id"`
}

// String identifies the endpoint without credentials.
func (c BackendConfig) String() string {
	if c.Address == "" {
		return string(c.Kind)
	}
	return string(c.Kind) + "://" + c.Address
}

// Spec describes what to migrate and where.
type Spec struct {
	Mode    Mode
	Source  BackendConfig
	Target  BackendConfig
	Options Options
}

// RunContext carries the per-run scope and callbacks.
type RunContext struct {
	Scope record.Scope
	// OnProgress is invoked after every batch. Calls are serialized.
	OnProgress func(Progress)
	// OnState is invoked on every state transition.
	OnState func(State)
}

// Progress reports records processed so far against the pre-counted total.
type Progress struct {
	Completed  int64   `json:"completed"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

// NewProgress computes a percentage clamped to [0, 100].
func NewProgress(completed, total int64) Progress {
	p := Progress{Completed: completed, Total: total}
	switch {
	case total <= 0:
		p.Percentage = 100
	case completed >= total:
		p.Percentage = 100
	default:
		p.Percentage = float64(completed) * 100 / float64(total)
	}
	return p
}

// State is a step of the orchestrator state machine.
type State string

// Orchestrator states.
const (
	StateNotStarted   State = "not_started"
	StateCounting     State = "counting"
	StateTransferring State = "transferring"
	StateValidating   State = "validating"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Result is the final, immutable report of one run.
type Result struct {
	Success         bool          `json:"success"`
	MigrationID     string        `json:"migration_id"`
	State           State         `json:"state"`
	Source          string        `json:"source"`
	Target          string        `json:"target"`
	Scope           record.Scope  `json:"scope"`
	TotalRecords    int64         `json:"total_records"`
	MigratedRecords int64         `json:"migrated_records"`
	FailedRecords   int64         `json:"failed_records"`
	Duration        time.Duration `json:"duration"`
	Errors          []Error       `json:"errors"`
	IDMappings      IDMapping     `json:"id_mappings"`
	Validation      *Validation   `json:"validation,omitempty"`
}

// IDMapping maps source ids to the ids the target stored them under.
// Only ids that changed appear.
type IDMapping map[string]string

// Validation is the post-migration fidelity check.
type Validation struct {
	Passed     bool       `json:"passed"`
	CountMatch CountMatch `json:"count_match"`
	Sample     *Sample    `json:"sample,omitempty"`
}

// CountMatch holds the in-scope counts of both sides.
type CountMatch struct {
	Source int64 `json:"source"`
	Target int64 `json:"target"`
}

// Sample summarizes the content-hash spot check.
type Sample struct {
	Checked    int `json:"checked"`
	Mismatched int `json:"mismatched"`
	Missing    int `json:"missing"`
}

// Role tells an adapter resolver which side of the run an endpoint is on.
type Role string

// Endpoint roles.
const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

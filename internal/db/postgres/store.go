// Package postgres opens the Postgres + pgvector storage adapter.
package postgres

import (
	"fmt"

	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"

	"github.com/kailas-cloud/vecmigrate/internal/db/sqlvec"
)

// EnvDSN is consulted when no address is configured.
const EnvDSN = "PG_URL"

// Config holds connection parameters.
type Config struct {
	DSN         string // URL or key=value form, passed to pgx as-is
	Table       string
	PreserveIDs bool
}

// Dialect is the pgvector flavour of the relational adapter.
var Dialect = sqlvec.Dialect{
	Name:         "pg",
	VectorSelect: "vector::text",
	Schema:       schema,
	AfterImport:  resetSequence,
	IsExists: func(err error) bool {
		return sqlvec.ContainsAny(err, "already exists")
	},
}

// NewStore connects to Postgres and returns the adapter.
func NewStore(cfg Config, log *zap.Logger) (*sqlvec.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required (set address or %s)", EnvDSN)
	}
	gdb, err := sqlvec.Open(pgdriver.Open(cfg.DSN), log)
	if err != nil {
		return nil, err
	}
	return sqlvec.New(gdb, sqlvec.Config{
		Table:       cfg.Table,
		PreserveIDs: cfg.PreserveIDs,
		Dialect:     Dialect,
	}), nil
}

func schema(table string, dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	vector VECTOR(%d) NOT NULL,
	team_id VARCHAR(50) NOT NULL,
	dataset_id VARCHAR(50) NOT NULL,
	collection_id VARCHAR(50) NOT NULL,
	createtime TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_vector_index ON %s
	USING hnsw (vector vector_ip_ops) WITH (m = 32, ef_construction = 128)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_team_dataset_collection_index ON %s
	USING btree (team_id, dataset_id, collection_id)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_create_time_index ON %s
	USING btree (createtime)`, table, table),
	}
}

// Explicit ids do not advance BIGSERIAL; move the sequence past them.
func resetSequence(table string) []string {
	return []string{fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)`,
		table, table,
	)}
}

// Package oceanbase opens the OceanBase storage adapter over the MySQL protocol.
package oceanbase

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	gormmysql "gorm.io/driver/mysql"

	"github.com/kailas-cloud/vecmigrate/internal/db/sqlvec"
)

// EnvDSN is consulted when no address is configured.
const EnvDSN = "OCEANBASE_URL"

// Config holds connection parameters.
type Config struct {
	// DSN is either a mysql:// URL or a go-sql-driver DSN.
	DSN         string
	Table       string
	PreserveIDs bool
}

// Dialect is the OceanBase flavour of the relational adapter.
var Dialect = sqlvec.Dialect{
	Name:         "oceanbase",
	VectorSelect: "CAST(vector AS CHAR)",
	Schema:       schema,
	IsExists: func(err error) bool {
		return sqlvec.ContainsAny(err, "already exist", "duplicate key name")
	},
}

// NewStore connects to OceanBase and returns the adapter.
func NewStore(cfg Config, log *zap.Logger) (*sqlvec.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required (set address or %s)", EnvDSN)
	}
	dsn, err := DSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	gdb, err := sqlvec.Open(gormmysql.Open(dsn), log)
	if err != nil {
		return nil, err
	}
	return sqlvec.New(gdb, sqlvec.Config{
		Table:       cfg.Table,
		PreserveIDs: cfg.PreserveIDs,
		Dialect:     Dialect,
	}), nil
}

// DSN normalizes an address into a go-sql-driver DSN with parseTime enabled.
func DSN(address string) (string, error) {
	if !strings.HasPrefix(address, "mysql://") {
		cfg, err := mysql.ParseDSN(address)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.ParseTime = true
	if q := u.Query(); len(q) > 0 {
		cfg.Params = make(map[string]string, len(q))
		for k := range q {
			cfg.Params[k] = q.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}

func schema(table string, dim int) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	vector VECTOR(%d) NOT NULL,
	team_id VARCHAR(50) NOT NULL,
	dataset_id VARCHAR(50) NOT NULL,
	collection_id VARCHAR(50) NOT NULL,
	createtime TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, table, dim),
		fmt.Sprintf(`CREATE VECTOR INDEX %s_vector_index ON %s(vector)
	WITH (distance=inner_product, type=hnsw, m=32, ef_construction=128)`, table, table),
		fmt.Sprintf(`CREATE INDEX %s_team_dataset_collection_index ON %s(team_id, dataset_id, collection_id)`,
			table, table),
		fmt.Sprintf(`CREATE INDEX %s_create_time_index ON %s(createtime)`, table, table),
	}
}

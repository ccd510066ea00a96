package datasource

import (
	"database/sql/driver"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// pgxConnector returns the default connector: pgx's database/sql driver
// configured from dsn. Parse errors from pgx redact the password.
func pgxConnector(dsn string) (driver.Connector, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: datasource.dsn: %w", apperrors.ErrInvalidConfig, err)
	}
	return stdlib.GetConnector(*cfg), nil
}

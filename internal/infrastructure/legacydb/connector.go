// Package legacydb reads the operator's legacy Firebird ERP database.
//
// The source databases predate Unicode: text columns come back as raw bytes
// in an 8-bit code page. Decoding happens here and only here, so the rest of
// the pipeline sees UTF-8 and never needs to know the environment was ever
// broken.
package legacydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	// Firebird driver, registered as "firebirdsql"
	_ "github.com/nakagami/firebirdsql"
)

var (
	ErrMissingHost = errors.New("legacydb: database host is required")
	ErrMissingPath = errors.New("legacydb: database file path is required")
	ErrMissingUser = errors.New("legacydb: database user is required")
)

// encodings maps operator-facing charset names to decoders. Windows-1252 is
// the default because that is what the known source databases were created
// under.
var encodings = map[string]encoding.Encoding{
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"cp850":        charmap.CodePage850,
}

// ConnectionParams identifies one legacy database
type ConnectionParams struct {
	Host     string
	Port     int
	Path     string
	User     string
	Password string
	// Charset names the source code page; empty means windows-1252
	Charset string
}

// Validate validates the parameters and applies defaults
func (p *ConnectionParams) Validate() error {
	if p.Host == "" {
		return ErrMissingHost
	}
	if p.Path == "" {
		return ErrMissingPath
	}
	if p.User == "" {
		return ErrMissingUser
	}
	if p.Port <= 0 {
		p.Port = 3050
	}
	return nil
}

// DSN builds the firebirdsql connection string
func (p *ConnectionParams) DSN() string {
	return fmt.Sprintf("%s:%s@%s:%d/%s", p.User, p.Password, p.Host, p.Port, p.Path)
}

// decoder returns the decoder for the configured charset
func (p *ConnectionParams) decoder() *encoding.Decoder {
	enc, ok := encodings[p.Charset]
	if !ok {
		enc = charmap.Windows1252
	}
	return enc.NewDecoder()
}

// RawRow is one result row keyed by upper-cased column name, as Firebird
// reports identifiers.
type RawRow map[string]any

// Connector runs operator-supplied SQL against a legacy database. One
// connection per call, closed unconditionally. The SQL text is executed as
// given: this path is admin-only and the authorization boundary sits above
// this layer.
type Connector struct {
	logger *zap.Logger

	// open is swapped for sqlmock in tests
	open func(params *ConnectionParams) (*sql.DB, error)
}

// NewConnector creates a legacy database connector
func NewConnector(logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		logger: logger,
		open: func(params *ConnectionParams) (*sql.DB, error) {
			return sql.Open("firebirdsql", params.DSN())
		},
	}
}

// Query opens a connection, runs the SQL, decodes text columns from the
// legacy code page and returns all rows.
func (c *Connector) Query(ctx context.Context, params *ConnectionParams, query string) ([]RawRow, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	db, err := c.open(params)
	if err != nil {
		return nil, fmt.Errorf("legacydb: opening %s:%d: %w", params.Host, params.Port, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("legacydb: query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("legacydb: reading columns: %w", err)
	}

	decoder := params.decoder()
	var result []RawRow

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("legacydb: scanning row %d: %w", len(result), err)
		}

		row := make(RawRow, len(columns))
		for i, name := range columns {
			row[name] = decodeValue(decoder, values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("legacydb: iterating rows: %w", err)
	}

	c.logger.Debug("legacy query completed",
		zap.String("host", params.Host),
		zap.Int("rows", len(result)))
	return result, nil
}

// decodeValue converts byte columns from the legacy code page to UTF-8
func decodeValue(decoder *encoding.Decoder, value any) any {
	raw, ok := value.([]byte)
	if !ok {
		return value
	}
	decoded, err := decoder.Bytes(raw)
	if err != nil {
		// An 8-bit charmap decode cannot fail on arbitrary input, but
		// keep the raw text rather than lose the row.
		return string(raw)
	}
	return string(decoded)
}

package store

import (
	"fmt"
	"strings"
)

// ColumnType enumerates the column types a record class can declare.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnCIText
	ColumnTimestamp
	ColumnTextList
	ColumnBoolean
	ColumnInteger
	ColumnID
)

// Column describes one column of an entity table.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

// TableSpec describes one entity table: its columns plus the unique index
// tuples. Unique tuples are stored exactly as given; callers are expected
// to have prefixed them with is_active so destroyed rows do not block
// identifier reuse (NULL never equals NULL in a unique index).
type TableSpec struct {
	Name    string
	Columns []Column
	Unique  [][]string
}

// MandatoryColumns returns the change-tracking columns every entity table
// carries. id is the primary key; is_active is true for live rows and NULL
// for destroyed ones.
func MandatoryColumns() []Column {
	return []Column{
		{Name: "id", Type: ColumnID, NotNull: true},
		{Name: "account_id", Type: ColumnID, NotNull: true},
		{Name: "mod_seq_created", Type: ColumnInteger, NotNull: true},
		{Name: "mod_seq_changed", Type: ColumnInteger, NotNull: true},
		{Name: "date_destroyed", Type: ColumnTimestamp},
		{Name: "is_active", Type: ColumnBoolean},
		{Name: "created", Type: ColumnTimestamp, NotNull: true},
	}
}

// CreateTable creates the table and its unique indexes if they do not
// already exist.
func (c *Conn) CreateTable(spec TableSpec) error {
	cols := make([]string, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		cols = append(cols, c.columnSQL(col))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", spec.Name, strings.Join(cols, ", "))
	if err := c.db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}

	for _, tuple := range spec.Unique {
		name := fmt.Sprintf("ux_%s_%s", spec.Name, strings.Join(tuple, "_"))
		idx := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			name, spec.Name, strings.Join(tuple, ", "))
		if err := c.db.Exec(idx).Error; err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}

	return nil
}

// columnSQL renders one column definition for the active dialect.
func (c *Conn) columnSQL(col Column) string {
	var sqlType string
	switch col.Type {
	case ColumnCIText:
		if c.config.Type == DatabaseTypeSQLite {
			sqlType = "TEXT COLLATE NOCASE"
		} else {
			sqlType = "TEXT"
		}
	case ColumnTimestamp:
		if c.config.Type == DatabaseTypePostgres {
			sqlType = "TIMESTAMPTZ"
		} else {
			sqlType = "TIMESTAMP"
		}
	case ColumnTextList:
		// Stored as a JSON-encoded array; portable across both backends.
		sqlType = "TEXT"
	case ColumnBoolean:
		sqlType = "BOOLEAN"
	case ColumnInteger:
		sqlType = "BIGINT"
	case ColumnID:
		if c.config.Type == DatabaseTypePostgres {
			sqlType = "UUID"
		} else {
			sqlType = "TEXT"
		}
	default:
		sqlType = "TEXT"
	}

	def := col.Name + " " + sqlType
	if col.Name == "id" {
		def += " PRIMARY KEY"
	} else if col.NotNull {
		def += " NOT NULL"
	}
	if col.Name == "created" {
		def += " DEFAULT CURRENT_TIMESTAMP"
	}
	return def
}

// createStatesTable creates the per-(account, type) modseq window table.
func (c *Conn) createStatesTable() error {
	idType := "TEXT"
	if c.config.Type == DatabaseTypePostgres {
		idType = "UUID"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS states (
		account_id %s NOT NULL,
		type TEXT NOT NULL,
		lowest_mod_seq BIGINT NOT NULL,
		highest_mod_seq BIGINT NOT NULL,
		PRIMARY KEY (account_id, type)
	)`, idType)
	return c.db.Exec(ddl).Error
}

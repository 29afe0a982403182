package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/syncbridge/replica-server-go/internal/database"
	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/sqlutil"
)

// internalTables are never offered to a remote peer: replication bookkeeping,
// settings, and migration tracking.
var internalTables = map[string]bool{
	"connections":       true,
	"transfers":         true,
	"settings":          true,
	"schema_migrations": true,
}

// Inspector introspects the local database and materializes tables from
// remote schema descriptions. All table and column names pass through the
// identifier guard before touching generated SQL; every value is bound.
type Inspector struct {
	db database.DBTX
}

func NewInspector(db database.DBTX) *Inspector {
	return &Inspector{db: db}
}

type ListOptions struct {
	// ExactCounts runs COUNT(*) per table instead of the planner estimate.
	ExactCounts bool
	// IncludeInternal lifts the internal/underscore-prefix exclusion.
	IncludeInternal bool
}

func (i *Inspector) excluded(table string, opts ListOptions) bool {
	if opts.IncludeInternal {
		return false
	}
	if internalTables[table] {
		return true
	}
	return strings.HasPrefix(table, "_") || strings.HasPrefix(table, "pg_")
}

// ListTables enumerates public tables with row counts.
func (i *Inspector) ListTables(ctx context.Context, opts ListOptions) ([]model.TableInfo, error) {
	var rows []struct {
		Name     string  `db:"name"`
		Estimate float64 `db:"estimate"`
	}
	err := i.db.SelectContext(ctx, &rows, `
		SELECT c.relname AS name, c.reltuples AS estimate
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r' AND n.nspname = 'public'
		ORDER BY c.relname
	`)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	tables := make([]model.TableInfo, 0, len(rows))
	for _, row := range rows {
		if i.excluded(row.Name, opts) {
			continue
		}

		info := model.TableInfo{Name: row.Name}
		if opts.ExactCounts {
			count, err := i.LocalCount(ctx, row.Name)
			if err != nil {
				return nil, err
			}
			info.RowCount = count
		} else {
			if row.Estimate > 0 {
				info.RowCount = int64(row.Estimate)
			}
			info.Estimated = true
		}
		tables = append(tables, info)
	}
	return tables, nil
}

// TableExists reports whether a public table with the given name exists.
func (i *Inspector) TableExists(ctx context.Context, table string) (bool, error) {
	if _, err := sqlutil.EscapeIdentifier(table); err != nil {
		return false, err
	}

	var exists bool
	err := i.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`, table)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return exists, nil
}

// GetSchema introspects column metadata and the primary key for one table.
func (i *Inspector) GetSchema(ctx context.Context, table string) (*model.TableSchema, error) {
	if _, err := sqlutil.EscapeIdentifier(table); err != nil {
		return nil, err
	}

	var cols []struct {
		Name      string        `db:"column_name"`
		DataType  string        `db:"data_type"`
		Nullable  string        `db:"is_nullable"`
		MaxLength sql.NullInt64 `db:"character_maximum_length"`
		Precision sql.NullInt64 `db:"numeric_precision"`
		Scale     sql.NullInt64 `db:"numeric_scale"`
	}
	err := i.db.SelectContext(ctx, &cols, `
		SELECT column_name, data_type, is_nullable,
		       character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(cols) == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("Table %q", table))
	}

	pk, err := i.GetPrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	pkSet := make(map[string]bool, len(pk))
	for _, name := range pk {
		pkSet[name] = true
	}

	schema := &model.TableSchema{Table: table, PrimaryKey: pk}
	for _, col := range cols {
		column := model.Column{
			Name:       col.Name,
			Type:       col.DataType,
			Nullable:   col.Nullable == "YES",
			PrimaryKey: pkSet[col.Name],
		}
		if col.MaxLength.Valid {
			v := int(col.MaxLength.Int64)
			column.MaxLength = &v
		}
		if col.Precision.Valid {
			v := int(col.Precision.Int64)
			column.Precision = &v
		}
		if col.Scale.Valid {
			v := int(col.Scale.Int64)
			column.Scale = &v
		}
		schema.Columns = append(schema.Columns, column)
	}
	return schema, nil
}

// GetPrimaryKey returns the PK columns in declared ordinal order.
func (i *Inspector) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	if _, err := sqlutil.EscapeIdentifier(table); err != nil {
		return nil, err
	}

	var columns []string
	err := i.db.SelectContext(ctx, &columns, `
		SELECT a.attname
		FROM pg_index idx
		JOIN pg_class c ON c.oid = idx.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(idx.indkey)
		WHERE idx.indisprimary AND n.nspname = 'public' AND c.relname = $1
		ORDER BY array_position(idx.indkey, a.attnum)
	`, table)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Database(err)
	}
	return columns, nil
}

// LocalCount is the exact row count, used to reconcile against the count a
// sender reports.
func (i *Inspector) LocalCount(ctx context.Context, table string) (int64, error) {
	name, err := sqlutil.EscapeIdentifier(table)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := i.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, name)); err != nil {
		return 0, apperrors.Database(err)
	}
	return count, nil
}

// CreateTable synthesizes and executes a CREATE TABLE from a remote schema
// description, translating the introspection type vocabulary into local DDL.
func (i *Inspector) CreateTable(ctx context.Context, schema *model.TableSchema) error {
	table, err := sqlutil.EscapeIdentifier(schema.Table)
	if err != nil {
		return err
	}
	if len(schema.Columns) == 0 {
		return apperrors.ValidationError("schema description has no columns")
	}

	singlePK := len(schema.PrimaryKey) == 1

	defs := make([]string, 0, len(schema.Columns)+1)
	for _, col := range schema.Columns {
		name, err := sqlutil.EscapeIdentifier(col.Name)
		if err != nil {
			return err
		}

		def := name + " " + translateType(col, singlePK)
		if !col.Nullable && !col.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}

	if len(schema.PrimaryKey) > 0 {
		pkCols := make([]string, 0, len(schema.PrimaryKey))
		for _, col := range schema.PrimaryKey {
			name, err := sqlutil.EscapeIdentifier(col)
			if err != nil {
				return err
			}
			pkCols = append(pkCols, name)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pkCols, ", ")+")")
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))

	log.Info().Str("table", table).Int("columns", len(schema.Columns)).Msg("creating table from remote schema")

	if _, err := i.db.ExecContext(ctx, ddl); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// translateType maps an introspected type name to local DDL. A sole integer
// primary-key column becomes auto-incrementing. Unrecognized type names fall
// back to text rather than reaching the DDL string unvalidated.
func translateType(col model.Column, singlePK bool) string {
	switch strings.ToLower(col.Type) {
	case "character varying", "varchar":
		if col.MaxLength != nil && *col.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", *col.MaxLength)
		}
		return "varchar(255)"
	case "character", "char":
		if col.MaxLength != nil && *col.MaxLength > 0 {
			return fmt.Sprintf("char(%d)", *col.MaxLength)
		}
		return "char(1)"
	case "text":
		return "text"
	case "smallint":
		return "smallint"
	case "integer", "int", "int4":
		if col.PrimaryKey && singlePK {
			return "serial"
		}
		return "integer"
	case "bigint", "int8":
		if col.PrimaryKey && singlePK {
			return "bigserial"
		}
		return "bigint"
	case "numeric", "decimal":
		if col.Precision != nil && col.Scale != nil {
			return fmt.Sprintf("numeric(%d,%d)", *col.Precision, *col.Scale)
		}
		return "numeric"
	case "real":
		return "real"
	case "double precision", "float8":
		return "double precision"
	case "boolean", "bool":
		return "boolean"
	case "date":
		return "date"
	case "time without time zone", "time":
		return "time"
	case "timestamp without time zone", "timestamp":
		return "timestamp"
	case "timestamp with time zone", "timestamptz":
		return "timestamptz"
	case "uuid":
		return "uuid"
	case "bytea":
		return "bytea"
	case "json":
		return "json"
	case "jsonb":
		return "jsonb"
	default:
		return "text"
	}
}

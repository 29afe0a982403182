package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/syncbridge/replica-server-go/internal/database"
	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
	"github.com/syncbridge/replica-server-go/internal/sqlutil"
)

// PrimaryKeyLookup resolves a table's ordered primary-key columns.
type PrimaryKeyLookup interface {
	GetPrimaryKey(ctx context.Context, table string) ([]string, error)
}

// RecordError is one failed record in a batch, kept alongside the rest of
// the batch's outcome instead of aborting it.
type RecordError struct {
	Record map[string]any `json:"record"`
	Reason string         `json:"reason"`
}

// Result is the per-batch outcome of ImportRecords.
type Result struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Errors  []RecordError `json:"errors"`
}

// TableResult is one table's outcome in an ImportMultiple run. Error is set
// when the table failed before any record could be attempted.
type TableResult struct {
	Result
	Error string `json:"error,omitempty"`
}

// Engine applies batches of wire records to local tables under a conflict
// strategy. One record's failure is recorded and the batch continues; a
// 500-record batch with 3 bad rows still commits 497.
type Engine struct {
	db database.DBTX
	pk PrimaryKeyLookup
}

func NewEngine(db database.DBTX, pk PrimaryKeyLookup) *Engine {
	return &Engine{db: db, pk: pk}
}

// ImportRecords applies one batch to one table.
func (e *Engine) ImportRecords(ctx context.Context, table string, records []map[string]any, strategy model.ConflictStrategy) (*Result, error) {
	if _, err := sqlutil.EscapeIdentifier(table); err != nil {
		return nil, err
	}
	if !strategy.Valid() {
		return nil, apperrors.InvalidInput("strategy", string(strategy))
	}

	pkCols, err := e.pk.GetPrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, raw := range records {
		if err := e.importOne(ctx, table, pkCols, raw, strategy, result); err != nil {
			result.Errors = append(result.Errors, RecordError{Record: raw, Reason: err.Error()})
		}
	}

	log.Info().
		Str("table", table).
		Str("strategy", string(strategy)).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("import batch finished")

	return result, nil
}

// ImportMultiple runs each table independently; one table's failure does
// not block another's.
func (e *Engine) ImportMultiple(ctx context.Context, batches map[string][]map[string]any, strategy model.ConflictStrategy) map[string]TableResult {
	results := make(map[string]TableResult, len(batches))
	for table, records := range batches {
		res, err := e.ImportRecords(ctx, table, records, strategy)
		if err != nil {
			results[table] = TableResult{Error: err.Error()}
			continue
		}
		results[table] = TableResult{Result: *res}
	}
	return results
}

func (e *Engine) importOne(ctx context.Context, table string, pkCols []string, raw map[string]any, strategy model.ConflictStrategy, result *Result) error {
	record, err := sqlutil.DecodeWireRecord(raw)
	if err != nil {
		return err
	}

	if strategy == model.StrategyAppend {
		// Source and target keys are not meant to correlate: drop the PK
		// fields and insert unconditionally.
		for _, col := range pkCols {
			delete(record, col)
		}
		if err := e.insert(ctx, table, record); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	pkValues, hasPK := primaryKeyValues(pkCols, record)
	if !hasPK {
		// No primary key to match on: treat the record as new.
		if err := e.insert(ctx, table, record); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	found, err := e.exists(ctx, table, pkCols, pkValues)
	if err != nil {
		return err
	}

	if !found {
		if err := e.insert(ctx, table, record); err != nil {
			return err
		}
		result.Created++
		return nil
	}

	switch strategy {
	case model.StrategySkip:
		result.Skipped++
		return nil

	case model.StrategyOverwrite:
		// Replace every non-PK column supplied by the incoming record,
		// nulls included.
		updates := nonPKColumns(pkCols, record)
		if len(updates) == 0 {
			result.Skipped++
			return nil
		}
		if err := e.update(ctx, table, pkCols, pkValues, updates); err != nil {
			return err
		}
		result.Updated++
		return nil

	case model.StrategyMerge:
		// Keep the existing value wherever the incoming one is null or
		// absent; otherwise take the incoming value.
		updates := make(map[string]any)
		for col, value := range nonPKColumns(pkCols, record) {
			if value == nil {
				continue
			}
			updates[col] = value
		}
		if len(updates) == 0 {
			result.Skipped++
			return nil
		}
		if err := e.update(ctx, table, pkCols, pkValues, updates); err != nil {
			return err
		}
		result.Updated++
		return nil
	}

	return apperrors.InvalidInput("strategy", string(strategy))
}

func primaryKeyValues(pkCols []string, record map[string]any) (map[string]any, bool) {
	if len(pkCols) == 0 {
		return nil, false
	}
	values := make(map[string]any, len(pkCols))
	for _, col := range pkCols {
		v, ok := record[col]
		if !ok || v == nil {
			return nil, false
		}
		values[col] = v
	}
	return values, true
}

func nonPKColumns(pkCols []string, record map[string]any) map[string]any {
	pkSet := make(map[string]bool, len(pkCols))
	for _, col := range pkCols {
		pkSet[col] = true
	}
	out := make(map[string]any)
	for col, value := range record {
		if !pkSet[col] {
			out[col] = value
		}
	}
	return out
}

func sortedColumns(record map[string]any) []string {
	cols := make([]string, 0, len(record))
	for col := range record {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// bindValue converts decoded values into driver-bindable arguments.
// Structured values travel as JSON text.
func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		return v, nil
	}
}

func (e *Engine) insert(ctx context.Context, table string, record map[string]any) error {
	if len(record) == 0 {
		return apperrors.ValidationError("record has no columns")
	}

	cols := sortedColumns(record)
	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		name, err := sqlutil.EscapeIdentifier(col)
		if err != nil {
			return err
		}
		arg, err := bindValue(record[col])
		if err != nil {
			return err
		}
		names = append(names, name)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, arg)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

func (e *Engine) update(ctx context.Context, table string, pkCols []string, pkValues map[string]any, updates map[string]any) error {
	sets := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates)+len(pkCols))
	i := 1
	for _, col := range sortedColumns(updates) {
		name, err := sqlutil.EscapeIdentifier(col)
		if err != nil {
			return err
		}
		arg, err := bindValue(updates[col])
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", name, i))
		args = append(args, arg)
		i++
	}

	wheres := make([]string, 0, len(pkCols))
	for _, col := range pkCols {
		name, err := sqlutil.EscapeIdentifier(col)
		if err != nil {
			return err
		}
		arg, err := bindValue(pkValues[col])
		if err != nil {
			return err
		}
		wheres = append(wheres, fmt.Sprintf("%s = $%d", name, i))
		args = append(args, arg)
		i++
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(wheres, " AND "))
	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

func (e *Engine) exists(ctx context.Context, table string, pkCols []string, pkValues map[string]any) (bool, error) {
	wheres := make([]string, 0, len(pkCols))
	args := make([]any, 0, len(pkCols))
	for i, col := range pkCols {
		name, err := sqlutil.EscapeIdentifier(col)
		if err != nil {
			return false, err
		}
		arg, err := bindValue(pkValues[col])
		if err != nil {
			return false, err
		}
		wheres = append(wheres, fmt.Sprintf("%s = $%d", name, i+1))
		args = append(args, arg)
	}

	var found bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s)", table, strings.Join(wheres, " AND "))
	if err := e.db.GetContext(ctx, &found, query, args...); err != nil {
		return false, err
	}
	return found, nil
}

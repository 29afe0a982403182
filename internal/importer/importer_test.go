package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/syncbridge/replica-server-go/internal/errors"
	"github.com/syncbridge/replica-server-go/internal/model"
)

type stubPKLookup struct {
	columns []string
	err     error
}

func (s *stubPKLookup) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	return s.columns, s.err
}

func newMockEngine(t *testing.T, pk []string) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEngine(sqlx.NewDb(db, "sqlmock"), &stubPKLookup{columns: pk}), mock
}

func existsRows(found bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(found)
}

func TestImportRecordsValidation(t *testing.T) {
	t.Run("rejects unsafe table name", func(t *testing.T) {
		engine, _ := newMockEngine(t, nil)
		_, err := engine.ImportRecords(context.Background(), "users; --", nil, model.StrategySkip)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidIdentifier, apperrors.GetCode(err))
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		engine, _ := newMockEngine(t, nil)
		_, err := engine.ImportRecords(context.Background(), "users", nil, model.ConflictStrategy("upsert"))
		assert.Error(t, err)
	})
}

func TestImportInsertWhenMissing(t *testing.T) {
	engine, mock := newMockEngine(t, []string{"id"})

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE id = \$1\)`).
		WithArgs(float64(1)).
		WillReturnRows(existsRows(false))
	mock.ExpectExec(`INSERT INTO users \(id, name\) VALUES \(\$1, \$2\)`).
		WithArgs(float64(1), "ada").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := engine.ImportRecords(context.Background(), "users",
		[]map[string]any{{"id": float64(1), "name": "ada"}}, model.StrategySkip)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSkipExisting(t *testing.T) {
	engine, mock := newMockEngine(t, []string{"id"})

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(true))

	result, err := engine.ImportRecords(context.Background(), "users",
		[]map[string]any{{"id": float64(1), "name": "ada"}}, model.StrategySkip)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Skipped)
}

func TestImportOverwrite(t *testing.T) {
	t.Run("replaces non-PK columns including nulls", func(t *testing.T) {
		engine, mock := newMockEngine(t, []string{"id"})

		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(true))
		mock.ExpectExec(`UPDATE users SET email = \$1, name = \$2 WHERE id = \$3`).
			WithArgs(nil, "ada", float64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := engine.ImportRecords(context.Background(), "users",
			[]map[string]any{{"id": float64(1), "name": "ada", "email": nil}}, model.StrategyOverwrite)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestImportMerge(t *testing.T) {
	t.Run("null and absent incoming values keep existing", func(t *testing.T) {
		engine, mock := newMockEngine(t, []string{"id"})

		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(true))
		// a is null (kept), b and c are updated.
		mock.ExpectExec(`UPDATE users SET b = \$1, c = \$2 WHERE id = \$3`).
			WithArgs(float64(3), float64(4), float64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := engine.ImportRecords(context.Background(), "users",
			[]map[string]any{{"id": float64(1), "a": nil, "b": float64(3), "c": float64(4)}},
			model.StrategyMerge)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all-null incoming counts as skipped", func(t *testing.T) {
		engine, mock := newMockEngine(t, []string{"id"})

		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(true))

		result, err := engine.ImportRecords(context.Background(), "users",
			[]map[string]any{{"id": float64(1), "a": nil}}, model.StrategyMerge)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
	})
}

func TestImportAppend(t *testing.T) {
	t.Run("strips PK and inserts without existence check", func(t *testing.T) {
		engine, mock := newMockEngine(t, []string{"id"})

		mock.ExpectExec(`INSERT INTO events \(payload\) VALUES \(\$1\)`).
			WithArgs("boot").
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := engine.ImportRecords(context.Background(), "events",
			[]map[string]any{{"id": float64(99), "payload": "boot"}}, model.StrategyAppend)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestImportWithoutPrimaryKey(t *testing.T) {
	t.Run("no PK means no lookup, record treated as new", func(t *testing.T) {
		engine, mock := newMockEngine(t, nil)

		mock.ExpectExec(`INSERT INTO logs \(line\) VALUES \(\$1\)`).
			WithArgs("hello").
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := engine.ImportRecords(context.Background(), "logs",
			[]map[string]any{{"line": "hello"}}, model.StrategySkip)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
	})

	t.Run("record missing PK values is treated as new", func(t *testing.T) {
		engine, mock := newMockEngine(t, []string{"id"})

		mock.ExpectExec(`INSERT INTO users \(name\) VALUES \(\$1\)`).
			WithArgs("ada").
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := engine.ImportRecords(context.Background(), "users",
			[]map[string]any{{"name": "ada"}}, model.StrategySkip)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
	})
}

func TestImportCollectsPerRecordErrors(t *testing.T) {
	engine, mock := newMockEngine(t, []string{"id"})

	// First record fails on a constraint; second succeeds.
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(false))
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(float64(1), "dupe@example.com").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "users_email_key"`))

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(2)).WillReturnRows(existsRows(false))
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(float64(2), "ok@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := engine.ImportRecords(context.Background(), "users",
		[]map[string]any{
			{"id": float64(1), "email": "dupe@example.com"},
			{"id": float64(2), "email": "ok@example.com"},
		}, model.StrategySkip)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Reason, "duplicate key")
}

func TestImportMultiple(t *testing.T) {
	t.Run("one table failing does not block another", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		require.NoError(t, err)
		defer db.Close()

		pk := &stubPKLookup{columns: nil}
		engine := NewEngine(sqlx.NewDb(db, "sqlmock"), pk)

		mock.ExpectExec(`INSERT INTO logs`).
			WithArgs("hello").
			WillReturnResult(sqlmock.NewResult(0, 1))

		results := engine.ImportMultiple(context.Background(), map[string][]map[string]any{
			"logs":      {{"line": "hello"}},
			"bad;table": {{"line": "nope"}},
		}, model.StrategySkip)

		assert.Equal(t, 1, results["logs"].Created)
		assert.Empty(t, results["logs"].Error)
		assert.NotEmpty(t, results["bad;table"].Error)
	})
}

func TestImportIdempotentSkip(t *testing.T) {
	// Re-applying the same batch under skip yields created=N then skipped=N.
	engine, mock := newMockEngine(t, []string{"id"})

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(false))
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(float64(1)).WillReturnRows(existsRows(true))

	batch := []map[string]any{{"id": float64(1), "name": "ada"}}

	first, err := engine.ImportRecords(context.Background(), "users", batch, model.StrategySkip)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 0, first.Skipped)

	second, err := engine.ImportRecords(context.Background(), "users", batch, model.StrategySkip)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Skipped)
}

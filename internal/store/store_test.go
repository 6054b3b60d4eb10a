package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// utcTime accepts any time.Time already converted to UTC.
var utcTime = ArgumentMatcherFunc(func(v interface{}) bool {
	ts, ok := v.(time.Time)
	return ok && ts.Location() == time.UTC
})

// jsonArg matches a []byte / json.RawMessage argument by its exact text.
func jsonArg(expected string) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		switch b := v.(type) {
		case []byte:
			return string(b) == expected
		case json.RawMessage:
			return string(b) == expected
		default:
			return false
		}
	}
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockPool.Close() })

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	store, mockPool := newMockStore(t)

	mockPool.ExpectExec(flexibleSQLMatcher(createRunsTableSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveResult(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a full result with UTC timestamps", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		result := schemas.Result{
			RunID:      uuid.NewString(),
			Success:    true,
			Reason:     "form submitted",
			StepsTaken: 3,
			Data:       map[string]interface{}{"submitted": true},
			Meta: schemas.ResultMeta{
				Hints:             []string{"hint one"},
				SuggestedCommands: []string{"curl -I https://example.com"},
			},
			StartedAt:  time.Date(2026, 8, 26, 10, 0, 0, 0, loc),
			FinishedAt: time.Date(2026, 8, 26, 10, 1, 0, 0, loc),
		}

		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(
				result.RunID,
				"https://example.com/contact",
				"fill the form",
				true,
				"form submitted",
				3,
				jsonArg(`{"submitted":true}`),
				jsonArg(`["hint one"]`),
				jsonArg(`["curl -I https://example.com"]`),
				utcTime,
				utcTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveResult(ctx, "https://example.com/contact", "fill the form", result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should persist nil data as an empty JSON object", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		result := schemas.Result{RunID: uuid.NewString(), Reason: "step budget exhausted"}

		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(
				result.RunID,
				"https://example.com",
				"do nothing",
				false,
				"step budget exhausted",
				0,
				jsonArg(`{}`),
				jsonArg(`null`),
				jsonArg(`null`),
				utcTime,
				utcTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.SaveResult(ctx, "https://example.com", "do nothing", result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should treat a duplicate run id as a no-op", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		result := schemas.Result{RunID: uuid.NewString()}
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(
				result.RunID, "https://example.com", "again", false, "", 0,
				jsonArg(`{}`), jsonArg(`null`), jsonArg(`null`), utcTime, utcTime,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		require.NoError(t, store.SaveResult(ctx, "https://example.com", "again", result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate insert failures", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		execErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(execErr)

		err := store.SaveResult(ctx, "https://example.com", "x", schemas.Result{RunID: uuid.NewString()})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListRecent(t *testing.T) {
	ctx := context.Background()

	t.Run("should scan rows newest first", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		now := time.Now().UTC()
		columns := []string{"run_id", "url", "success", "reason", "steps_taken", "finished_at"}
		rows := pgxmock.NewRows(columns).
			AddRow("run-2", "https://example.com/b", true, "instruction completed", 4, now).
			AddRow("run-1", "https://example.com/a", false, "run stalled: page state stopped changing", 7, now.Add(-time.Hour))

		mockPool.ExpectQuery(flexibleSQLMatcher(listRecentSQL)).
			WithArgs(5).
			WillReturnRows(rows)

		records, err := store.ListRecent(ctx, 5)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "run-2", records[0].RunID)
		assert.True(t, records[0].Success)
		assert.Equal(t, 7, records[1].StepsTaken)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should default the limit", func(t *testing.T) {
		store, mockPool := newMockStore(t)

		columns := []string{"run_id", "url", "success", "reason", "steps_taken", "finished_at"}
		mockPool.ExpectQuery(flexibleSQLMatcher(listRecentSQL)).
			WithArgs(20).
			WillReturnRows(pgxmock.NewRows(columns))

		records, err := store.ListRecent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

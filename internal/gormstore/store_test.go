package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/testutil"
)

// createTestStore runs the MySQL facade over an SQLite connection loaded
// with the bookstore schema.
func createTestStore(t *testing.T, opts ...Option) (*Store, *meta.Registry) {
	t.Helper()
	reg := testutil.Bookstore(t)

	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "gorm.db"))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	_, err = conn.Exec(testutil.BookstoreDDL)
	require.NoError(t, err)
	_, err = conn.Exec(testutil.BookstoreSeed)
	require.NoError(t, err)

	s, err := OpenConn(conn, reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, reg
}

func TestOpenConn_Contract(t *testing.T) {
	s, _ := createTestStore(t)
	assert.Equal(t, meta.PlatformMySQL, s.Platform())
	assert.True(t, s.UsesPivotTable())
}

// ============================================================================
// Find / Count
// ============================================================================

func TestFind(t *testing.T) {
	s, reg := createTestStore(t)

	books, err := s.Find(context.Background(), reg.Find("Book"), queryir.Select{
		Filter:  queryir.Equals{Field: "author", Value: 1},
		OrderBy: []queryir.Order{{Field: "title"}},
	})
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "A Wizard of Earthsea", books[0]["title"])
	assert.Equal(t, int64(11), books[0]["id"])
	assert.Equal(t, int64(1), books[0]["author"])
	assert.Equal(t, "The Dispossessed", books[1]["title"])
	assert.Equal(t, int64(16), books[1]["titleLength"])
}

func TestFind_LimitAndSubtype(t *testing.T) {
	s, reg := createTestStore(t)

	animals, err := s.Find(context.Background(), reg.Find("Animal"), queryir.Select{Limit: 1})
	require.NoError(t, err)
	require.Len(t, animals, 1)
	assert.Equal(t, "dog", animals[0]["type"])

	cats, err := s.Find(context.Background(), reg.Find("Cat"), queryir.Select{})
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, int64(9), cats[0]["lives"])
}

func TestCount(t *testing.T) {
	s, reg := createTestStore(t)

	n, err := s.Count(context.Background(), reg.Find("Stock"), queryir.Equals{Field: "storeId", Value: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadFromPivotTable(t *testing.T) {
	s, reg := createTestStore(t)
	books := reg.Find("Tag").Property("books")

	got, err := s.LoadFromPivotTable(context.Background(), books, [][]any{{1}, {2}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, got["1"], 2)
	assert.Equal(t, "The Dispossessed", got["1"][0]["title"])
	assert.Equal(t, "Dune", got["1"][1]["title"])
	require.Len(t, got["2"], 1)
	assert.Equal(t, "A Wizard of Earthsea", got["2"][0]["title"])
}

// ============================================================================
// Errors / logging
// ============================================================================

func TestFind_SQLErrorIsLogged(t *testing.T) {
	core, logged := observer.New(zapcore.DebugLevel)
	s, reg := createTestStore(t, WithLogger(zap.New(core)))

	require.NoError(t, s.db.Exec("DROP TABLE chapters").Error)
	_, err := s.Find(context.Background(), reg.Find("Chapter"), queryir.Select{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query chapters")
	assert.NotZero(t, logged.FilterMessage("gorm trace error").Len())
}

func TestFind_TraceAtInfoLevel(t *testing.T) {
	core, logged := observer.New(zapcore.DebugLevel)
	s, reg := createTestStore(t, WithLogger(zap.New(core)), WithLogLevel(glogger.Info), WithSlowThreshold(time.Hour))

	_, err := s.Find(context.Background(), reg.Find("Tag"), queryir.Select{})
	require.NoError(t, err)

	traces := logged.FilterMessage("gorm trace").All()
	require.NotEmpty(t, traces)
	assert.Contains(t, traces[0].ContextMap()["sql"], "FROM `tags`")
}

func TestTranslate(t *testing.T) {
	err := translate(gorm.ErrRecordNotFound)
	assert.True(t, errors.Is(err, queryir.ErrNotFound))
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	other := errors.New("boom")
	assert.Same(t, other, translate(other))
}

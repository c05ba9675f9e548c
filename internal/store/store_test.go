package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"borrow-analytics-backend/internal/interval"
	"borrow-analytics-backend/internal/model"
)

// newMockDB creates a gorm connection backed by sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

// newSQLiteDB opens a private in-memory database with all tables.
func newSQLiteDB(t *testing.T) *gorm.DB {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&model.BorrowRecord{}, &model.PushSubscription{}, &model.ItemSubscription{}, &model.RefreshRun{}))
	return gormDB
}

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func hist(item, cat string, start time.Time, hours int) interval.Interval {
	return interval.NewClosed(item, cat, start, start.Add(time.Duration(hours)*time.Hour), interval.SourceHistorical, "Historical")
}

func live(item, cat, tag string, start time.Time, open bool) interval.Interval {
	if open {
		return interval.NewOpen(item, cat, start, interval.SourceRealtime, tag)
	}
	return interval.NewClosed(item, cat, start, start.Add(time.Hour), interval.SourceRealtime, tag)
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ReplaceSource(ctx, interval.SourceHistorical, []interval.Interval{
		hist("Canon R 10", "Cameras", t0, 3),
		hist("Canon R 2", "Cameras", t0.AddDate(0, 0, 1), 5),
		hist("Shure SM7 1", "Audio", t0.AddDate(0, 0, 2), 2),
	}))
	require.NoError(t, s.ReplaceSource(ctx, interval.SourceRealtime, []interval.Interval{
		live("Canon R 2", "Cameras", "Fall 2025", t0.AddDate(0, 1, 0), false),
		live("Canon R 2", "Cameras", "Fall 2025", t0.AddDate(0, 1, 2), true),
		live("Tripod 1", "Support", "Inventory", t0.AddDate(0, 1, 3), true),
	}))
}

func TestGormStore_ReplaceSourceAndQuery(t *testing.T) {
	s := NewGormStore(newSQLiteDB(t))
	ctx := context.Background()
	seed(t, s)

	all, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 6)

	got, err := s.Query(ctx, Filter{Sources: []interval.Source{interval.SourceRealtime}, ItemKey: "Canon R 2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, t0.AddDate(0, 1, 0), got[0].Start)
	require.NotNil(t, got[0].End)
	assert.Equal(t, t0.AddDate(0, 1, 0).Add(time.Hour), *got[0].End)
	d, ok := got[0].Duration()
	assert.True(t, ok)
	assert.Equal(t, 1, d)
	assert.True(t, got[1].IsOpen())
	_, ok = got[1].Duration()
	assert.False(t, ok)

	got, err = s.Query(ctx, Filter{ItemName: "Canon R 7"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = s.Query(ctx, Filter{Category: "Cameras", ExcludeTags: []string{"Historical"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// replacing one source leaves the other alone
	require.NoError(t, s.ReplaceSource(ctx, interval.SourceRealtime, nil))
	got, err = s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, iv := range got {
		assert.Equal(t, interval.SourceHistorical, iv.Source)
	}
}

func TestGormStore_ReplaceSourceRejectsForeignSource(t *testing.T) {
	s := NewGormStore(newSQLiteDB(t))
	err := s.ReplaceSource(context.Background(), interval.SourceRealtime, []interval.Interval{hist("A", "X", t0, 1)})
	assert.Error(t, err)
}

func TestGormStore_ListItemsAndOpenItems(t *testing.T) {
	s := NewGormStore(newSQLiteDB(t))
	ctx := context.Background()
	seed(t, s)

	items, err := s.ListItems(ctx, Filter{Category: "Cameras"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ItemInfo{ItemKey: "Canon R 2", ItemName: "Canon R", Category: "Cameras", Borrows: 3, Open: 1}, items[0])
	assert.Equal(t, "Canon R 10", items[1].ItemKey)

	open, err := s.OpenItems(ctx, interval.SourceRealtime)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Canon R 2": 1, "Tripod 1": 1}, open)

	open, err = s.OpenItems(ctx, interval.SourceHistorical)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestGormStore_StatisticsAndRuns(t *testing.T) {
	s := NewGormStore(newSQLiteDB(t))
	ctx := context.Background()

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Nil(t, st.First)
	assert.Nil(t, st.LatestRun)

	seed(t, s)
	require.NoError(t, s.RecordRun(ctx, model.RefreshRun{ID: "a", Kind: "realtime", Status: model.RunStatusOK, StartedAt: t0, FinishedAt: t0}))
	require.NoError(t, s.RecordRun(ctx, model.RefreshRun{ID: "b", Kind: "realtime", Status: model.RunStatusFailed, StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour)}))

	st, err = s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), st.Total)
	assert.Equal(t, map[string]int64{"historical": 3, "realtime": 3}, st.BySource)
	assert.Equal(t, int64(4), st.Items)
	assert.Equal(t, []string{"Audio", "Cameras", "Support"}, st.Categories)
	require.NotNil(t, st.First)
	require.NotNil(t, st.Last)
	assert.Equal(t, t0, *st.First)
	assert.Equal(t, t0.AddDate(0, 1, 3), *st.Last)
	require.NotNil(t, st.LatestRun)
	assert.Equal(t, "b", st.LatestRun.ID)
}

func TestGormStore_ReplaceSourceRollsBackOnInsertFailure(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "borrow_records" WHERE source = $1`)).
		WithArgs("realtime").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "borrow_records"`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.ReplaceSource(context.Background(), interval.SourceRealtime, []interval.Interval{
		live("Canon R 2", "Cameras", "Fall 2025", t0, true),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_ReplaceSourceRollsBackOnDeleteFailure(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "borrow_records"`)).
		WithArgs(Any{}).
		WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err := s.ReplaceSource(context.Background(), interval.SourceHistorical, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}

package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/linkvault/archiver/internal/archive"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, "archives")
	require.NoError(t, err)
	return s, mock
}

func TestNewWithPool_ValidatesTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "archives; DROP TABLE users")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewWithPool(nil, "archives")
	require.Error(t, err)
}

func TestStarted_UpsertsStatusOnly(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO archives").
		WithArgs("https://example.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Started(context.Background(), archive.NewRecord("https://example.com"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_MissReturnsNil(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT item_status, success, rearchivable, folder, media, final_media, metadata").
		WithArgs("https://example.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"item_status", "success", "rearchivable", "folder", "media", "final_media", "metadata",
		}))

	got, err := s.Fetch(context.Background(), archive.NewRecord("https://example.com"))
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_HitDecodesArchivedRecord(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	media := []*archive.Media{{ID: "m1", Filename: "page.html", StorageURL: "file:///tmp/m1.html"}}
	mediaJSON, err := json.Marshal(media)
	require.NoError(t, err)
	metaJSON, err := json.Marshal(map[string]any{"title": "Example"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT item_status, success, rearchivable, folder, media, final_media, metadata").
		WithArgs("https://example.com").
		WillReturnRows(pgxmock.NewRows([]string{
			"item_status", "success", "rearchivable", "folder", "media", "final_media", "metadata",
		}).AddRow("web: success", true, false, "runs/today", mediaJSON, []byte(nil), metaJSON))

	got, err := s.Fetch(context.Background(), archive.NewRecord("https://example.com"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "https://example.com", got.URL)
	require.True(t, got.Success)
	require.False(t, got.Rearchivable)
	require.Equal(t, "runs/today", got.Folder)
	require.Len(t, got.Media, 1)
	require.Equal(t, "file:///tmp/m1.html", got.Media[0].StorageURL)
	title, _ := got.Meta("title")
	require.Equal(t, "Example", title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDone_UpsertsFullRecord(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	rec := archive.NewRecord("https://example.com")
	rec.Status = "web: success"
	rec.Success = true
	rec.Folder = "runs/today"
	rec.AddMedia(&archive.Media{ID: "m1", Filename: "page.html"})
	rec.SetMeta("title", "Example")

	mock.ExpectExec("INSERT INTO archives").
		WithArgs("https://example.com", "web: success", true, false, "runs/today",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Done(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedAndAborted_UpsertTerminalStatus(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := archive.NewRecord("https://example.com")

	mock.ExpectExec("INSERT INTO archives").
		WithArgs("https://example.com", "failed", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Failed(context.Background(), rec))

	mock.ExpectExec("INSERT INTO archives").
		WithArgs("https://example.com", "aborted", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Aborted(context.Background(), rec))

	require.NoError(t, mock.ExpectationsWereMet())
}

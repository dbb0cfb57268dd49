package clients

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/openpodcast/episode-ingest-worker/catalog"
	"github.com/openpodcast/episode-ingest-worker/concurrency"
)

func newMockCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	// Catalog methods run under concurrency.DB, which is nil until configured.
	concurrency.Configure(1, 1, 1, 1)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewCatalog(db), mock
}

var episodeColumns = []string{
	"episodeId", "episodeTitle", "episodeDescription", "channelName", "channelId",
	"hostName", "hostDescription", "originalUri", "publishedDate", "contentType",
	"durationMillis", "episodeImages", "country", "genre", "guests",
	"guestDescriptions", "topics", "processingDone", "isSynced", "additionalData",
	"episodeUri", "createdAt", "updatedAt", "deletedAt",
}

func episodeRow(id string) []driverValue {
	return []driverValue{
		id, "Title", "Desc", "Channel", "chan-1",
		"Host", "Host bio", "https://example.com/v", time.Now(), "video/mp4",
		int64(600000), "{}", "US", "Tech", "{}",
		"{}", "{}", false, false, []byte(`{}`),
		"", time.Now(), time.Now(), nil,
	}
}

type driverValue = interface{}

func TestSanitizeText(t *testing.T) {
	require.Equal(t, "hello world", sanitizeText("  hello world  "))
	require.Equal(t, "hello", sanitizeText("hel\x00lo"))
}

func TestGetEpisodeNotFound(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows(episodeColumns))
	rec, err := c.GetEpisode(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetEpisodeFound(t *testing.T) {
	c, mock := newMockCatalog(t)
	rows := sqlmock.NewRows(episodeColumns).AddRow(episodeRow("ep-1")...)
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)
	rec, err := c.GetEpisode(context.Background(), "ep-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "ep-1", rec.EpisodeID)
}

func TestCreateEpisodeReturnsExistingRow(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectBegin()
	rows := sqlmock.NewRows(episodeColumns).AddRow(episodeRow("existing")...)
	mock.ExpectQuery(`SELECT .* FOR UPDATE NOWAIT`).WillReturnRows(rows)
	mock.ExpectCommit()

	rec, err := c.CreateEpisode(context.Background(), catalog.EpisodeRecord{
		EpisodeTitle: "Title",
		ChannelID:    "chan-1",
	})
	require.NoError(t, err)
	require.Equal(t, "existing", rec.EpisodeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssertPatchAppliedCatchesMismatch(t *testing.T) {
	title := "New Title"
	updated := &catalog.EpisodeRecord{EpisodeTitle: "Old Title"}
	err := assertPatchApplied(updated, catalog.EpisodePatch{EpisodeTitle: &title})
	require.Error(t, err)
}

func TestBuildUpdateSetOnlyTouchesPresentFields(t *testing.T) {
	title := "New Title"
	current := &catalog.EpisodeRecord{AdditionalData: catalog.AdditionalData{"a": "1"}}
	sets, args := buildUpdateSet(current, catalog.EpisodePatch{EpisodeTitle: &title})
	require.Len(t, sets, 1)
	require.Len(t, args, 1)
	require.Equal(t, title, args[0])
}

package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openpodcast/episode-ingest-worker/catalog"
	"github.com/openpodcast/episode-ingest-worker/concurrency"
	xerrors "github.com/openpodcast/episode-ingest-worker/errors"
)

// Catalog is the only durable state authority for episodes (§4.4),
// grounded on pipeline/coordinator.go's sendDBMetrics raw database/sql +
// lib/pq pattern, generalized from a single metrics INSERT to full
// transactional episode CRUD.
type Catalog struct {
	DB                        *sql.DB
	UpdateValidateRetries     int
	UpdateValidateBaseDelay   time.Duration
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{
		DB:                      db,
		UpdateValidateRetries:   3,
		UpdateValidateBaseDelay: 200 * time.Millisecond,
	}
}

// GetEpisode is a simple SELECT outside a transaction.
func (c *Catalog) GetEpisode(ctx context.Context, id string) (*catalog.EpisodeRecord, error) {
	row := c.DB.QueryRowContext(ctx, selectEpisodeSQL+` WHERE "episodeId" = $1 AND "deletedAt" IS NULL`, id)
	return scanEpisode(row)
}

// FindByYoutubeVideoID selects against additionalData->>'youtubeVideoId'.
func (c *Catalog) FindByYoutubeVideoID(ctx context.Context, youtubeID string) (*catalog.EpisodeRecord, error) {
	row := c.DB.QueryRowContext(ctx,
		selectEpisodeSQL+` WHERE "additionalData"->>'youtubeVideoId' = $1 AND "deletedAt" IS NULL ORDER BY "createdAt" DESC LIMIT 1`,
		youtubeID)
	return scanEpisode(row)
}

// ListRecentEpisodes returns every non-deleted row created at or after
// since, feeding the validator's periodic batch sweep (§4.8).
func (c *Catalog) ListRecentEpisodes(ctx context.Context, since time.Time) ([]catalog.EpisodeRecord, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.DB, func() ([]catalog.EpisodeRecord, error) {
		rows, err := c.DB.QueryContext(ctx, selectEpisodeSQL+` WHERE "createdAt" >= $1 AND "deletedAt" IS NULL ORDER BY "createdAt" ASC`, since)
		if err != nil {
			return nil, fmt.Errorf("listing recent episodes: %w", err)
		}
		defer rows.Close()

		var out []catalog.EpisodeRecord
		for rows.Next() {
			var rec catalog.EpisodeRecord
			var deletedAt sql.NullTime
			if err := rows.Scan(
				&rec.EpisodeID, &rec.EpisodeTitle, &rec.EpisodeDescription, &rec.ChannelName, &rec.ChannelID,
				&rec.HostName, &rec.HostDescription, &rec.OriginalURI, &rec.PublishedDate, &rec.ContentType,
				&rec.DurationMillis, pq.Array(&rec.EpisodeImages), &rec.Country, &rec.Genre, pq.Array(&rec.Guests),
				pq.Array(&rec.GuestDescriptions), pq.Array(&rec.Topics), &rec.ProcessingDone, &rec.IsSynced, &rec.AdditionalData,
				&rec.EpisodeURI, &rec.CreatedAt, &rec.UpdatedAt, &deletedAt,
			); err != nil {
				return nil, fmt.Errorf("scanning recent episode row: %w", err)
			}
			if deletedAt.Valid {
				rec.DeletedAt = &deletedAt.Time
			}
			out = append(out, rec)
		}
		return out, rows.Err()
	})
}

// CreateEpisode is idempotent and race-safe (§4.4): it locks any existing
// row for (episodeTitle, channelId) — or, failing that, by youtubeVideoId —
// with FOR UPDATE NOWAIT before deciding whether to insert. A locked row
// aborts this attempt with a LockContentionError for the outer
// executeWithRetry to re-drive.
func (c *Catalog) CreateEpisode(ctx context.Context, rec catalog.EpisodeRecord) (*catalog.EpisodeRecord, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.DB, func() (*catalog.EpisodeRecord, error) {
		return concurrency.WithRetry(func() (*catalog.EpisodeRecord, error) {
			return c.createEpisodeAttempt(ctx, rec)
		}, concurrency.RetryOptions{
			Attempts:    3,
			BaseDelay:   100 * time.Millisecond,
			IsRetryable: xerrors.IsLockContention,
		})
	})
}

func (c *Catalog) createEpisodeAttempt(ctx context.Context, rec catalog.EpisodeRecord) (*catalog.EpisodeRecord, error) {
	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	title := sanitizeText(rec.EpisodeTitle)
	existing, err := lockExistingRow(ctx, tx, `"episodeTitle" = $1 AND "channelId" = $2`, title, rec.ChannelID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if youtubeID, ok := rec.AdditionalData.GetString(catalog.KeyYoutubeVideoID); ok && youtubeID != "" {
			existing, err = lockExistingRow(ctx, tx, `"additionalData"->>'youtubeVideoId' = $1`, youtubeID)
			if err != nil {
				return nil, err
			}
		}
	}
	if existing != nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit read-only lookup: %w", err)
		}
		return existing, nil
	}

	rec.EpisodeID = uuid.NewString()
	rec.EpisodeTitle = title
	rec.ChannelName = sanitizeText(rec.ChannelName)
	rec.ChannelID = sanitizeText(rec.ChannelID)
	rec.HostName = sanitizeText(rec.HostName)
	rec.HostDescription = sanitizeText(rec.HostDescription)
	rec.EpisodeDescription = sanitizeText(rec.EpisodeDescription)
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, insertEpisodeSQL,
		rec.EpisodeID,
		rec.EpisodeTitle,
		rec.EpisodeDescription,
		rec.ChannelName,
		rec.ChannelID,
		rec.HostName,
		rec.HostDescription,
		rec.OriginalURI,
		rec.PublishedDate,
		rec.ContentType,
		rec.DurationMillis,
		pq.Array(rec.EpisodeImages),
		rec.Country,
		rec.Genre,
		pq.Array(rec.Guests),
		pq.Array(rec.GuestDescriptions),
		pq.Array(rec.Topics),
		rec.ProcessingDone,
		rec.IsSynced,
		rec.AdditionalData,
		rec.EpisodeURI,
		rec.CreatedAt,
		rec.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, xerrors.NewLockContentionError(fmt.Errorf("duplicate episode row: %w", err))
		}
		return nil, fmt.Errorf("insert episode: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return &rec, nil
}

// lockExistingRow runs the FOR UPDATE NOWAIT SELECT of §4.4. A lock-not-
// available error becomes a LockContentionError for the retry layer;
// "no rows" is not an error, it just means existing is nil.
func lockExistingRow(ctx context.Context, tx *sql.Tx, where string, args ...interface{}) (*catalog.EpisodeRecord, error) {
	query := selectEpisodeSQL + ` WHERE ` + where + ` AND "deletedAt" IS NULL ORDER BY "createdAt" DESC LIMIT 1 FOR UPDATE NOWAIT`
	row := tx.QueryRowContext(ctx, query, args...)
	rec, err := scanEpisode(row)
	if err != nil {
		if isLockNotAvailable(err) {
			return nil, xerrors.NewLockContentionError(err)
		}
		return nil, err
	}
	return rec, nil
}

// UpdateEpisode dynamically updates only the fields present in patch,
// merging AdditionalData at the application layer, then reads the row
// back and asserts every patched field matches, retrying on mismatch.
func (c *Catalog) UpdateEpisode(ctx context.Context, id string, patch catalog.EpisodePatch) (*catalog.EpisodeRecord, error) {
	return concurrency.WithSemaphoreCtx(ctx, concurrency.DB, func() (*catalog.EpisodeRecord, error) {
		return concurrency.WithRetry(func() (*catalog.EpisodeRecord, error) {
			return c.updateEpisodeAttempt(ctx, id, patch)
		}, concurrency.RetryOptions{
			Attempts:    c.attempts(),
			BaseDelay:   c.baseDelay(),
			IsRetryable: func(err error) bool { return xerrors.IsLockContention(err) || xerrors.IsValidationMismatch(err) },
		})
	})
}

func (c *Catalog) attempts() int {
	if c.UpdateValidateRetries > 0 {
		return c.UpdateValidateRetries
	}
	return 3
}

func (c *Catalog) baseDelay() time.Duration {
	if c.UpdateValidateBaseDelay > 0 {
		return c.UpdateValidateBaseDelay
	}
	return 200 * time.Millisecond
}

func (c *Catalog) updateEpisodeAttempt(ctx context.Context, id string, patch catalog.EpisodePatch) (*catalog.EpisodeRecord, error) {
	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockExistingRow(ctx, tx, `"episodeId" = $1`, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, xerrors.NewObjectNotFoundError(fmt.Sprintf("episode %s not found", id), nil)
	}

	sets, args := buildUpdateSet(current, patch)
	if len(sets) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit no-op update: %w", err)
		}
		return current, nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE episodes SET %s, "updatedAt" = now() WHERE "episodeId" = $%d`, strings.Join(sets, ", "), len(args))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update episode: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}

	updated, err := c.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, xerrors.NewObjectNotFoundError(fmt.Sprintf("episode %s vanished after update", id), nil)
	}
	if err := assertPatchApplied(updated, patch); err != nil {
		return nil, xerrors.NewValidationMismatchError("episode", patch, err.Error())
	}
	return updated, nil
}

// buildUpdateSet translates only the non-nil fields of patch into a
// parameterized SET clause. additionalData is merged with the current
// row's value (read, patch, write) rather than replaced wholesale.
func buildUpdateSet(current *catalog.EpisodeRecord, patch catalog.EpisodePatch) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf(`%q = $%d`, col, len(args)))
	}

	if patch.EpisodeTitle != nil {
		add("episodeTitle", sanitizeText(*patch.EpisodeTitle))
	}
	if patch.EpisodeDescription != nil {
		add("episodeDescription", sanitizeText(*patch.EpisodeDescription))
	}
	if patch.DurationMillis != nil {
		add("durationMillis", *patch.DurationMillis)
	}
	if patch.ProcessingDone != nil {
		add("processingDone", *patch.ProcessingDone)
	}
	if patch.IsSynced != nil {
		add("isSynced", *patch.IsSynced)
	}
	if patch.EpisodeURI != nil {
		add("episodeUri", *patch.EpisodeURI)
	}
	if patch.Guests != nil {
		add("guests", pq.Array(patch.Guests))
	}
	if patch.GuestDescriptions != nil {
		add("guestDescriptions", pq.Array(patch.GuestDescriptions))
	}
	if patch.Topics != nil {
		add("topics", pq.Array(patch.Topics))
	}
	if patch.AdditionalData != nil {
		merged := current.AdditionalData.Merge(patch.AdditionalData)
		add("additionalData", merged)
	}
	return sets, args
}

func assertPatchApplied(updated *catalog.EpisodeRecord, patch catalog.EpisodePatch) error {
	if patch.EpisodeTitle != nil && updated.EpisodeTitle != sanitizeText(*patch.EpisodeTitle) {
		return fmt.Errorf("episodeTitle mismatch after update")
	}
	if patch.ProcessingDone != nil && updated.ProcessingDone != *patch.ProcessingDone {
		return fmt.Errorf("processingDone mismatch after update")
	}
	if patch.DurationMillis != nil && updated.DurationMillis != *patch.DurationMillis {
		return fmt.Errorf("durationMillis mismatch after update")
	}
	if patch.AdditionalData != nil {
		for k, v := range patch.AdditionalData {
			if got, ok := updated.AdditionalData[k]; !ok || fmt.Sprint(got) != fmt.Sprint(v) {
				return fmt.Errorf("additionalData[%s] mismatch after update", k)
			}
		}
	}
	return nil
}

const selectEpisodeSQL = `SELECT
	"episodeId", "episodeTitle", "episodeDescription", "channelName", "channelId",
	"hostName", "hostDescription", "originalUri", "publishedDate", "contentType",
	"durationMillis", "episodeImages", "country", "genre", "guests",
	"guestDescriptions", "topics", "processingDone", "isSynced", "additionalData",
	"episodeUri", "createdAt", "updatedAt", "deletedAt"
	FROM episodes`

const insertEpisodeSQL = `INSERT INTO episodes(
	"episodeId", "episodeTitle", "episodeDescription", "channelName", "channelId",
	"hostName", "hostDescription", "originalUri", "publishedDate", "contentType",
	"durationMillis", "episodeImages", "country", "genre", "guests",
	"guestDescriptions", "topics", "processingDone", "isSynced", "additionalData",
	"episodeUri", "createdAt", "updatedAt"
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

func scanEpisode(row *sql.Row) (*catalog.EpisodeRecord, error) {
	var rec catalog.EpisodeRecord
	var deletedAt sql.NullTime
	err := row.Scan(
		&rec.EpisodeID, &rec.EpisodeTitle, &rec.EpisodeDescription, &rec.ChannelName, &rec.ChannelID,
		&rec.HostName, &rec.HostDescription, &rec.OriginalURI, &rec.PublishedDate, &rec.ContentType,
		&rec.DurationMillis, pq.Array(&rec.EpisodeImages), &rec.Country, &rec.Genre, pq.Array(&rec.Guests),
		pq.Array(&rec.GuestDescriptions), pq.Array(&rec.Topics), &rec.ProcessingDone, &rec.IsSynced, &rec.AdditionalData,
		&rec.EpisodeURI, &rec.CreatedAt, &rec.UpdatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan episode row: %w", err)
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}
	return &rec, nil
}

// sanitizeText strips control characters and trims whitespace, applied to
// every string field (§4.4). Full NFC normalization is left to upstream
// producers -- see video.Slug's equivalent tradeoff note.
func sanitizeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "55P03"
	}
	return strings.Contains(err.Error(), "could not obtain lock")
}

// Package catalog is the only durable-state authority for episodes (§4.4).
// Grounded on the teacher's pipeline/coordinator.go sendDBMetrics raw-SQL
// pattern (database/sql + lib/pq, numbered placeholders), generalized from
// a fire-and-forget metrics insert into full transactional CRUD.
package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AdditionalData is the open key-value bag of §3. Canonical keys are
// documented as constants below; readers must tolerate missing keys.
type AdditionalData map[string]interface{}

const (
	KeyVideoLocation     = "videoLocation"
	KeyMasterM3U8        = "master_m3u8"
	KeyYoutubeVideoID    = "youtubeVideoId"
	KeyThumbnail         = "thumbnail"
	KeyGuestEnrichment   = "guestEnrichment"
	KeyTopicEnrichment   = "topicEnrichment"
	KeyVideoDownloadErr  = "videoDownloadError"
)

func (a AdditionalData) GetString(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a AdditionalData) Merge(patch AdditionalData) AdditionalData {
	merged := AdditionalData{}
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Value implements driver.Valuer so an AdditionalData can be passed
// directly as a query argument and stored as a jsonb column.
func (a AdditionalData) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

func (a *AdditionalData) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch s := src.(type) {
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, a)
}

// EpisodeRecord is the persistent entity keyed by EpisodeID (§3). Invariants
// enforced by the catalog adapter, not by this struct.
type EpisodeRecord struct {
	EpisodeID          string
	EpisodeTitle       string
	EpisodeDescription string
	ChannelName        string
	ChannelID          string
	HostName           string
	HostDescription    string
	OriginalURI        string
	PublishedDate      time.Time
	ContentType        string
	DurationMillis     int64
	EpisodeImages      []string
	Country            string
	Genre              string
	Guests             []string
	GuestDescriptions  []string
	Topics             []string
	ProcessingDone     bool
	IsSynced           bool
	AdditionalData     AdditionalData
	EpisodeURI         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// HasMasterManifest reports the invariant subject of P3: master_m3u8 set
// implies videoLocation set.
func (e *EpisodeRecord) HasMasterManifest() bool {
	_, ok := e.AdditionalData.GetString(KeyMasterM3U8)
	return ok
}

func (e *EpisodeRecord) HasVideoLocation() bool {
	_, ok := e.AdditionalData.GetString(KeyVideoLocation)
	return ok
}

// EpisodePatch is a sparse update; only non-nil fields are written by
// updateEpisode (§4.4). AdditionalData, when present, is merged (not
// replaced) at the application layer.
type EpisodePatch struct {
	EpisodeTitle       *string
	EpisodeDescription *string
	DurationMillis     *int64
	Guests             []string
	GuestDescriptions  []string
	Topics             []string
	ProcessingDone     *bool
	IsSynced           *bool
	EpisodeURI         *string
	AdditionalData     AdditionalData
}

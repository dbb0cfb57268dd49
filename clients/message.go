package clients

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/openpodcast/episode-ingest-worker/catalog"
)

// MessageKind discriminates the three queue-message shapes of §6.
type MessageKind int

const (
	MessageUnknown MessageKind = iota
	MessageExistingEpisode
	MessageNewEntry
	MessageLegacy
)

// IngestMessage is the parsed, shape-agnostic view of an incoming queue
// message. Unknown fields are preserved in AdditionalData rather than
// dropped (§6: "parsing is permissive").
type IngestMessage struct {
	Kind           MessageKind
	EpisodeID      string
	VideoURL       string
	VideoID        string
	EpisodeTitle   string
	ChannelName    string
	ChannelID      string
	OriginalURI    string
	PublishedDate  string
	ContentType    string
	HostName       string
	HostDescription string
	LanguageCode   string
	Genre          string
	Country        string
	WebsiteLink    string
	JobID          string
	AdditionalData catalog.AdditionalData
}

var existingEpisodeSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["id", "url"],
	"properties": {"id": {"type": "string"}, "url": {"type": "string"}},
	"not": {"anyOf": [
		{"required": ["videoId"]}, {"required": ["episodeTitle"]}, {"required": ["originalUri"]}
	]}
}`)

var newEntrySchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["videoId", "episodeTitle", "originalUri"]
}`)

var legacySchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["url"]
}`)

// knownNewEntryFields is used to split the raw message into typed fields
// versus the open additionalData bag.
var knownNewEntryFields = map[string]bool{
	"videoId": true, "episodeTitle": true, "channelName": true, "channelId": true,
	"originalUri": true, "publishedDate": true, "contentType": true, "hostName": true,
	"hostDescription": true, "languageCode": true, "genre": true, "country": true,
	"websiteLink": true, "additionalData": true,
}

// ParseMessage classifies and parses a raw queue message body per the
// top-down precedence of §6: existing-episode, then new-entry, then legacy.
func ParseMessage(body []byte) (IngestMessage, error) {
	doc := gojsonschema.NewBytesLoader(body)

	if result, err := gojsonschema.Validate(existingEpisodeSchema, doc); err == nil && result.Valid() {
		return parseExistingEpisode(body)
	}
	if result, err := gojsonschema.Validate(newEntrySchema, doc); err == nil && result.Valid() {
		return parseNewEntry(body)
	}
	if result, err := gojsonschema.Validate(legacySchema, doc); err == nil && result.Valid() {
		return parseLegacy(body)
	}
	return IngestMessage{}, fmt.Errorf("message matches none of existing-episode, new-entry, or legacy shapes")
}

func parseExistingEpisode(body []byte) (IngestMessage, error) {
	var raw struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return IngestMessage{}, fmt.Errorf("parsing existing-episode message: %w", err)
	}
	var all map[string]interface{}
	if err := json.Unmarshal(body, &all); err != nil {
		return IngestMessage{}, fmt.Errorf("parsing existing-episode message: %w", err)
	}
	msg := IngestMessage{Kind: MessageExistingEpisode, EpisodeID: raw.ID, VideoURL: raw.URL, AdditionalData: catalog.AdditionalData{}}
	for k, v := range all {
		if k != "id" && k != "url" {
			msg.AdditionalData[k] = v
		}
	}
	return msg, nil
}

func parseNewEntry(body []byte) (IngestMessage, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return IngestMessage{}, fmt.Errorf("parsing new-entry message: %w", err)
	}

	msg := IngestMessage{Kind: MessageNewEntry, AdditionalData: catalog.AdditionalData{}}
	msg.VideoID, _ = raw["videoId"].(string)
	msg.EpisodeTitle, _ = raw["episodeTitle"].(string)
	msg.ChannelName, _ = raw["channelName"].(string)
	msg.ChannelID, _ = raw["channelId"].(string)
	msg.OriginalURI, _ = raw["originalUri"].(string)
	msg.PublishedDate, _ = raw["publishedDate"].(string)
	msg.ContentType, _ = raw["contentType"].(string)
	msg.HostName, _ = raw["hostName"].(string)
	msg.HostDescription, _ = raw["hostDescription"].(string)
	msg.LanguageCode, _ = raw["languageCode"].(string)
	msg.Genre, _ = raw["genre"].(string)
	msg.Country, _ = raw["country"].(string)
	msg.WebsiteLink, _ = raw["websiteLink"].(string)

	if nested, ok := raw["additionalData"].(map[string]interface{}); ok {
		for k, v := range nested {
			msg.AdditionalData[k] = v
		}
	}
	for k, v := range raw {
		if !knownNewEntryFields[k] {
			msg.AdditionalData[k] = v
		}
	}
	return msg, nil
}

func parseLegacy(body []byte) (IngestMessage, error) {
	var raw struct {
		URL       string                 `json:"url"`
		JobID     string                 `json:"jobId"`
		ChannelID string                 `json:"channelId"`
		Options   map[string]interface{} `json:"options"`
		Metadata  map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return IngestMessage{}, fmt.Errorf("parsing legacy message: %w", err)
	}

	msg := IngestMessage{
		Kind:      MessageLegacy,
		VideoURL:  raw.URL,
		JobID:     raw.JobID,
		ChannelID: raw.ChannelID,
		AdditionalData: catalog.AdditionalData{},
	}
	for k, v := range raw.Options {
		msg.AdditionalData[k] = v
	}
	for k, v := range raw.Metadata {
		msg.AdditionalData[k] = v
	}
	var all map[string]interface{}
	if err := json.Unmarshal(body, &all); err != nil {
		return IngestMessage{}, fmt.Errorf("parsing legacy message: %w", err)
	}
	for k, v := range all {
		switch k {
		case "url", "jobId", "channelId", "options", "metadata":
		default:
			msg.AdditionalData[k] = v
		}
	}
	return msg, nil
}

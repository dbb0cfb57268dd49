package video

import "fmt"

const (
	TrackTypeVideo = "video"
	TrackTypeAudio = "audio"
)

// DefaultProfile720p supplies the bitrate parseProbeOutput assumes when a
// probe reports none. Bitrate is in bits per second, like InputTrack.Bitrate.
var DefaultProfile720p = struct {
	Height  int64
	Bitrate int64
}{Height: 720, Bitrate: 1_200_000}

type InputVideo struct {
	Format    string       `json:"format,omitempty"`
	Tracks    []InputTrack `json:"tracks,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	SizeBytes int64        `json:"size,omitempty"`
}

// GetTrack finds the first track of the given type. Returns an error if
// none is present -- callers treat a missing video track as "audio-only
// source" (§4.7 maxHeight heuristic has nothing to key off).
func (i InputVideo) GetTrack(trackType string) (InputTrack, error) {
	if trackType != TrackTypeVideo && trackType != TrackTypeAudio {
		return InputTrack{}, fmt.Errorf("invalid track type - must be '%s' or '%s'", TrackTypeVideo, TrackTypeAudio)
	}
	for _, t := range i.Tracks {
		if t.Type == trackType {
			return t, nil
		}
	}
	return InputTrack{}, fmt.Errorf("no '%s' tracks found", trackType)
}

type VideoTrack struct {
	Width              int64   `json:"width,omitempty"`
	Height             int64   `json:"height,omitempty"`
	PixelFormat        string  `json:"pixel_format,omitempty"`
	FPS                float64 `json:"fps,omitempty"`
	Rotation           int64   `json:"rotation,omitempty"`
	DisplayAspectRatio string  `json:"display_aspect_ratio,omitempty"`
}

type AudioTrack struct {
	Channels   int `json:"channels,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`
	SampleBits int `json:"sample_bits,omitempty"`
	BitDepth   int `json:"bit_depth,omitempty"`
}

type InputTrack struct {
	Type         string  `json:"type"`
	Codec        string  `json:"codec"`
	Bitrate      int64   `json:"bitrate"`
	DurationSec  float64 `json:"duration"`
	SizeBytes    int64   `json:"size"`
	StartTimeSec float64 `json:"start_time"`

	VideoTrack
	AudioTrack
}

// OutputVideoFile describes one uploaded rendition, populated by probing
// the uploaded artifact back (PopulateOutput) so the catalog patch and the
// validator see the encoder's actual output dimensions/bitrate rather than
// the requested ladder values.
type OutputVideoFile struct {
	Type      string `json:"type"`
	SizeBytes int64  `json:"size,omitempty"`
	Location  string `json:"location"`
	Width     int64  `json:"width,omitempty"`
	Height    int64  `json:"height,omitempty"`
	Bitrate   int64  `json:"bitrate,omitempty"`
}

func PopulateOutput(requestID string, probe Prober, outputURL string, videoFile OutputVideoFile) (OutputVideoFile, error) {
	outputVideoProbe, err := probe.ProbeFile(requestID, outputURL, "-analyzeduration", "15000000")
	if err != nil {
		return OutputVideoFile{}, fmt.Errorf("error probing output file from S3: %w", err)
	}
	videoFile.SizeBytes = outputVideoProbe.SizeBytes
	videoTrack, err := outputVideoProbe.GetTrack(TrackTypeVideo)
	if err != nil {
		return OutputVideoFile{}, fmt.Errorf("no video track found in output video: %w", err)
	}
	videoFile.Height = videoTrack.Height
	videoFile.Width = videoTrack.Width
	videoFile.Bitrate = videoTrack.Bitrate
	return videoFile, nil
}

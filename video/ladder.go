package video

import "fmt"

// Rendition is one entry of the fixed adaptive-bitrate ladder (§4.3),
// replacing the teacher's dynamic source-bitrate-relative ABR ladder
// (profiles.go's former GetDefaultPlaybackProfiles) with the spec's fixed
// height/bitrate table.
type Rendition struct {
	Height  int64
	Bitrate int64 // kbps
}

func (r Rendition) Name() string {
	return fmt.Sprintf("%dp", r.Height)
}

var ladder1080 = []Rendition{
	{Height: 1080, Bitrate: 2500},
	{Height: 720, Bitrate: 1200},
	{Height: 480, Bitrate: 700},
	{Height: 360, Bitrate: 400},
}

var ladder720 = []Rendition{
	{Height: 720, Bitrate: 1200},
	{Height: 480, Bitrate: 700},
	{Height: 360, Bitrate: 400},
}

// TopEdition chooses the ladder's ceiling from the source height: sources
// at or above 1080p get the full four-rung ladder, everything else gets
// the three-rung 720p-ceiling ladder (§4.7 step 7).
func TopEdition(sourceHeight int64) int64 {
	if sourceHeight >= 1080 {
		return 1080
	}
	return 720
}

// Ladder returns the fixed rendition set for a topEdition (720 or 1080).
// Any other value is treated as 720, the narrower of the two.
func Ladder(topEdition int64) []Rendition {
	if topEdition >= 1080 {
		return ladder1080
	}
	return ladder720
}

package models

// Rendition defines one output quality in the fixed ladder.
type Rendition struct {
	Label        string `json:"label"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate int64  `json:"video_bitrate"`
	MaxBitrate   int64  `json:"max_bitrate"`
	BufSize      int64  `json:"buf_size"`
	AudioBitrate int64  `json:"audio_bitrate"`
	// Bandwidth is the value declared in the master playlist.
	Bandwidth int64 `json:"bandwidth"`
}

// Standard renditions
var (
	Rendition360p = Rendition{
		Label:        "360p",
		Width:        640,
		Height:       360,
		VideoBitrate: 800_000,
		MaxBitrate:   856_000,
		BufSize:      1_200_000,
		AudioBitrate: 96_000,
		Bandwidth:    900_000,
	}

	Rendition480p = Rendition{
		Label:        "480p",
		Width:        854,
		Height:       480,
		VideoBitrate: 1_400_000,
		MaxBitrate:   1_498_000,
		BufSize:      2_100_000,
		AudioBitrate: 128_000,
		Bandwidth:    1_600_000,
	}

	Rendition720p = Rendition{
		Label:        "720p",
		Width:        1280,
		Height:       720,
		VideoBitrate: 2_800_000,
		MaxBitrate:   2_996_000,
		BufSize:      4_200_000,
		AudioBitrate: 128_000,
		Bandwidth:    3_000_000,
	}
)

// RenditionLadder returns the fixed output ladder in declaration order.
func RenditionLadder() []Rendition {
	return []Rendition{Rendition360p, Rendition480p, Rendition720p}
}

// LadderForSource filters the ladder against the source height so output
// is never upscaled. At least one rendition is always kept.
func LadderForSource(sourceHeight int, ladder []Rendition) []Rendition {
	var selected []Rendition
	for _, r := range ladder {
		if sourceHeight <= 0 || r.Height <= sourceHeight {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 && len(ladder) > 0 {
		selected = append(selected, ladder[0])
	}
	return selected
}

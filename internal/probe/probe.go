// Package probe invokes the container probe (mkvmerge -J) and converts its
// JSON into the tagged records the rest of the pipeline consumes.
package probe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/langtag"
)

// Result is the parsed probe output for one container.
type Result struct {
	FileName    string       `json:"file_name"`
	Tracks      []TrackInfo  `json:"tracks"`
	Attachments []Attachment `json:"attachments"`
	Chapters    []struct {
		NumEntries int `json:"num_entries"`
	} `json:"chapters"`
	Container struct {
		Properties struct {
			DurationNs int64 `json:"duration"`
		} `json:"properties"`
	} `json:"container"`
}

type TrackInfo struct {
	ID         int             `json:"id"`
	Type       string          `json:"type"` // "video" | "audio" | "subtitles"
	Properties TrackProperties `json:"properties"`
}

type TrackProperties struct {
	CodecID           string `json:"codec_id"`
	Language          string `json:"language"`
	LanguageIETF      string `json:"language_ietf"`
	TrackName         string `json:"track_name"`
	AudioChannels     int    `json:"audio_channels"`
	AudioSamplingFreq int    `json:"audio_sampling_frequency"`
	AudioBitsPerSample int   `json:"audio_bits_per_sample"`
	MinimumTimestamp  int64  `json:"minimum_timestamp"` // ns; container delay
	DefaultDuration   int64  `json:"default_duration"`  // ns per frame, video only
}

type Attachment struct {
	ID          int    `json:"id"`
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

// Run probes path with the resolved probe binary.
func Run(ctx context.Context, probeBin, path string) (*Result, error) {
	out, err := execwrap.Capture(ctx, probeBin, []string{"-J", path})
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}
	var r Result
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("parsing probe JSON for %s: %w", path, err)
	}
	return &r, nil
}

// Lang returns the track's language with the IETF form preferred over the
// legacy field, normalized to ISO 639-3.
func (t TrackInfo) Lang() string {
	if t.Properties.LanguageIETF != "" {
		return langtag.Normalize(t.Properties.LanguageIETF)
	}
	return langtag.Normalize(t.Properties.Language)
}

// DelayMs converts the track's minimum_timestamp (ns) to integer
// milliseconds, rounding half away from zero.
func (t TrackInfo) DelayMs() int {
	ns := t.Properties.MinimumTimestamp
	if ns >= 0 {
		return int((ns + 500_000) / 1_000_000)
	}
	return -int((-ns + 500_000) / 1_000_000)
}

// AudioTracks returns the audio tracks in container order.
func (r *Result) AudioTracks() []TrackInfo {
	return r.tracksOfType("audio")
}

func (r *Result) VideoTracks() []TrackInfo {
	return r.tracksOfType("video")
}

func (r *Result) SubtitleTracks() []TrackInfo {
	return r.tracksOfType("subtitles")
}

func (r *Result) tracksOfType(kind string) []TrackInfo {
	var out []TrackInfo
	for _, t := range r.Tracks {
		if t.Type == kind {
			out = append(out, t)
		}
	}
	return out
}

// TrackByID finds a track by its container-assigned id.
func (r *Result) TrackByID(id int) (TrackInfo, bool) {
	for _, t := range r.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return TrackInfo{}, false
}

// SelectAudioByLang picks the audio track whose language matches code, else
// the first audio track. The returned stream index counts
// audio tracks only, matching the decoder's a:N stream specifier space;
// ok is false when the container has no audio at all.
func (r *Result) SelectAudioByLang(code string) (streamIndex int, track TrackInfo, ok bool) {
	audio := r.AudioTracks()
	if len(audio) == 0 {
		return 0, TrackInfo{}, false
	}
	for i, t := range audio {
		if langtag.Matches(t.Lang(), code) {
			return i, t, true
		}
	}
	return 0, audio[0], true
}

// VideoFPS derives the reference video framerate from default_duration
// (ns per frame). Returns 0 when the container does not report one.
func (r *Result) VideoFPS() float64 {
	for _, t := range r.VideoTracks() {
		if dd := t.Properties.DefaultDuration; dd > 0 {
			return 1e9 / float64(dd)
		}
	}
	return 0
}

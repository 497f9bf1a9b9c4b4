package media

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// StreamCopyToWAV remuxes an audio stream into a WAV container without
// re-encoding. Only works when the payload is already PCM under an ACM
// wrapper; the caller falls back to DecodeToWAV otherwise.
func StreamCopyToWAV(ctx context.Context, path string, audioStreamIndex int, outPath string) error {
	args := []string{
		"-hide_banner", "-v", "error", "-y",
		"-i", path,
		"-map", fmt.Sprintf("0:a:%d", audioStreamIndex),
		"-c:a", "copy",
		outPath,
	}
	return run(ctx, FFmpegPath, args)
}

// DecodeToWAV decodes an audio stream to PCM WAV at the source's bit
// depth.
func DecodeToWAV(ctx context.Context, path string, audioStreamIndex, bitsPerSample int, outPath string) error {
	codec := "pcm_s16le"
	switch bitsPerSample {
	case 24:
		codec = "pcm_s24le"
	case 32:
		codec = "pcm_s32le"
	}
	args := []string{
		"-hide_banner", "-v", "error", "-y",
		"-i", path,
		"-map", fmt.Sprintf("0:a:%d", audioStreamIndex),
		"-c:a", codec,
		outPath,
	}
	return run(ctx, FFmpegPath, args)
}

// ValidateWAV opens a WAV file and checks its header decodes to a sane
// format, guarding the A_MS/ACM stream-copy path against wrappers ffmpeg
// copied but no decoder will accept downstream.
func ValidateWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return fmt.Errorf("%s is not a decodable WAV file", path)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return fmt.Errorf("%s has a degenerate WAV header", path)
	}
	return nil
}

// WriteWAVInt writes a PCM buffer out as WAV without another
// child-process round trip.
func WriteWAVInt(path string, data []int, channels, sampleRate, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   data, SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// GetDisplayAspectRatio reads a video stream's display aspect ratio from
// the decoder rather than trusting container metadata.
func GetDisplayAspectRatio(ctx context.Context, path string, videoStreamIndex int) (string, error) {
	args := []string{
		"-v", "error",
		"-select_streams", fmt.Sprintf("v:%d", videoStreamIndex),
		"-show_entries", "stream=display_aspect_ratio",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := runCapture(ctx, FFprobePath, args)
	if err != nil {
		return "", err
	}
	dar := strings.TrimSpace(string(out))
	if dar == "" || dar == "N/A" {
		return "", fmt.Errorf("no display aspect ratio reported for %s", path)
	}
	return dar, nil
}

// GetVideoDimensions reads a video stream's coded width and height.
func GetVideoDimensions(ctx context.Context, path string, videoStreamIndex int) (w, h int, err error) {
	args := []string{
		"-v", "error",
		"-select_streams", fmt.Sprintf("v:%d", videoStreamIndex),
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		path,
	}
	out, err := runCapture(ctx, FFprobePath, args)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Split(strings.TrimSpace(string(out)), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected dimensions output %q", out)
	}
	w, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	h, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

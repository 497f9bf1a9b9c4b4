// Package media wraps the external decoder/encoder/filter family —
// always ffmpeg in practice. Every exported function here is a blocking
// point: it writes argv, starts a child, waits for exit. None of it
// links against libav; the core never does.
package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/executils"
	"github.com/tassa-yoniso-manasi-karoto/mkvsync/internal/execwrap"
)

var FFmpegPath = "ffmpeg"
var FFprobePath = "ffprobe"

// sampleBytes is the width of one float32 or int32 LE sample.
const sampleBytes = 4

// DecodePCMFloat32 decodes one audio stream to mono 32-bit-float little
// endian PCM at sampleRate. The returned slice is an owned
// copy: cmd.Output() already buffers into its own []byte, but the trailing
// trim below still takes a fresh slice, because the backing array behind
// the subprocess pipe must never be read after the process buffers are
// reused. Trailing bytes that don't form a whole sample are dropped.
func DecodePCMFloat32(ctx context.Context, path string, streamIndex, sampleRate int) ([]float32, error) {
	args := []string{
		"-hide_banner", "-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:a:%d", streamIndex),
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-",
	}
	raw, err := runCapture(ctx, FFmpegPath, args)
	if err != nil {
		return nil, fmt.Errorf("decoding stream %d of %s: %w", streamIndex, path, err)
	}
	n := len(raw) / sampleBytes * sampleBytes
	out := make([]float32, n/sampleBytes)
	for i := 0; i < len(out); i++ {
		bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// DecodePCMInt32 decodes one audio stream to interleaved 32-bit-signed
// little-endian PCM at the given channel count and sample rate, used by
// the stepping corrector which needs the source's
// native channel layout rather than a collapsed mono stream.
func DecodePCMInt32(ctx context.Context, path string, streamIndex, channels, sampleRate int) ([]int32, error) {
	args := []string{
		"-hide_banner", "-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:a:%d", streamIndex),
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s32le",
		"-acodec", "pcm_s32le",
		"-",
	}
	raw, err := runCapture(ctx, FFmpegPath, args)
	if err != nil {
		return nil, fmt.Errorf("decoding stream %d of %s: %w", streamIndex, path, err)
	}
	n := len(raw) / sampleBytes * sampleBytes
	out := make([]int32, n/sampleBytes)
	for i := 0; i < len(out); i++ {
		out[i] = int32(uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24)
	}
	return out, nil
}

// DecodePCMInt32Range decodes a time range [startS, startS+durS) of one
// audio stream to interleaved int32 LE PCM, used by the smart-fill content
// decode which only ever needs a few seconds of the reference.
func DecodePCMInt32Range(ctx context.Context, path string, streamIndex, channels, sampleRate int, startS, durS float64) ([]int32, error) {
	args := []string{
		"-hide_banner", "-v", "error",
		"-ss", fmt.Sprintf("%.6f", startS),
		"-t", fmt.Sprintf("%.6f", durS),
		"-i", path,
		"-map", fmt.Sprintf("0:a:%d", streamIndex),
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s32le",
		"-acodec", "pcm_s32le",
		"-",
	}
	raw, err := runCapture(ctx, FFmpegPath, args)
	if err != nil {
		return nil, fmt.Errorf("decoding range of %s: %w", path, err)
	}
	n := len(raw) / sampleBytes * sampleBytes
	out := make([]int32, n/sampleBytes)
	for i := 0; i < len(out); i++ {
		out[i] = int32(uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24)
	}
	return out, nil
}

// EncodePCMInt32ToFLAC pipes interleaved int32 LE PCM on stdin into ffmpeg
// and writes a FLAC file. channelLayout is passed through verbatim (e.g. "5.1",
// "stereo") so multichannel tracks keep their speaker assignment.
func EncodePCMInt32ToFLAC(ctx context.Context, pcm []int32, channels int, channelLayout string, sampleRate int, outPath string) error {
	buf := make([]byte, len(pcm)*sampleBytes)
	for i, s := range pcm {
		u := uint32(s)
		buf[i*4] = byte(u)
		buf[i*4+1] = byte(u >> 8)
		buf[i*4+2] = byte(u >> 16)
		buf[i*4+3] = byte(u >> 24)
	}

	args := []string{
		"-hide_banner", "-v", "error", "-y",
		"-f", "s32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
	}
	if channelLayout != "" {
		args = append(args, "-channel_layout", channelLayout)
	}
	args = append(args, "-i", "-", "-c:a", "flac", outPath)

	cmd := commandContext(ctx, FFmpegPath, args...)
	cmd.Stdin = bytes.NewReader(buf)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("encoding FLAC %s: %w: %s", outPath, err, stderr.String())
	}
	return nil
}

// ResampleEngine is one of the three resamplers correction may invoke.
type ResampleEngine string

const (
	EngineRubberband ResampleEngine = "rubberband"
	EngineAtempo     ResampleEngine = "atempo"
	EngineAresample  ResampleEngine = "aresample"
)

// RubberbandOptions configures rubberband's pitch-preserving stretch.
type RubberbandOptions struct {
	Transients string // "crisp" | "mixed" | "smooth"
	Smoother   string // "on" | "off"
	PitchQ     string // "quality" | "speed" | "consistency"
}

// ApplyTempo runs the configured resample engine on inPath at the given
// tempo ratio: tempo > 1 speeds the track up.
func ApplyTempo(ctx context.Context, engine ResampleEngine, opts RubberbandOptions, tempo float64, inPath, outPath string) error {
	var filter string
	switch engine {
	case EngineRubberband:
		filter = fmt.Sprintf("rubberband=tempo=%.6f:transients=%s:smoothing=%s:pitchq=%s",
			tempo, orDefault(opts.Transients, "crisp"), orDefault(opts.Smoother, "off"), orDefault(opts.PitchQ, "quality"))
	case EngineAtempo:
		filter = atempoChain(tempo)
	case EngineAresample:
		filter = fmt.Sprintf("aresample=%d", int(48000.0*tempo))
	default:
		return fmt.Errorf("unsupported resample engine %q", engine)
	}

	args := []string{"-hide_banner", "-v", "error", "-y", "-i", inPath, "-filter:a", filter, "-c:a", "flac", outPath}
	return run(ctx, FFmpegPath, args)
}

// atempoChain builds a chain of atempo filters because a single atempo
// instance only accepts ratios in [0.5, 2.0].
func atempoChain(tempo float64) string {
	var parts []string
	remaining := tempo
	for remaining > 2.0 {
		parts = append(parts, "atempo=2.0")
		remaining /= 2.0
	}
	for remaining < 0.5 {
		parts = append(parts, "atempo=0.5")
		remaining /= 0.5
	}
	parts = append(parts, fmt.Sprintf("atempo=%.6f", remaining))
	return strings.Join(parts, ",")
}

// SilenceRange is one silencedetect hit.
type SilenceRange struct {
	StartS   float64
	EndS     float64
	ThreshDB float64 // the configured noise floor, not a measured average
}

// DetectSilence runs ffmpeg's silencedetect filter over [startS, endS] of
// path and parses silence_start/silence_end pairs from stderr. The
// filter never reports a true average dB, so ThreshDB is set to
// threshold-5 as the source does, not computed from PCM.
func DetectSilence(ctx context.Context, path string, streamIndex int, startS, endS, noiseFloorDB, minDurationS float64) ([]SilenceRange, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", noiseFloorDB, minDurationS)
	args := []string{
		"-hide_banner", "-v", "info",
		"-ss", fmt.Sprintf("%.3f", startS),
		"-to", fmt.Sprintf("%.3f", endS),
		"-i", path,
		"-map", fmt.Sprintf("0:a:%d", streamIndex),
		"-af", filter,
		"-f", "null", "-",
	}
	cmd := executils.NewCommand(FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run() // silencedetect always exits through -f null; ignore exit code

	return parseSilenceDetect(stderr.String(), noiseFloorDB-5), nil
}

var silenceStartRe = regexp.MustCompile(`silence_start:\s*([\d.-]+)`)
var silenceEndRe = regexp.MustCompile(`silence_end:\s*([\d.-]+)`)

func parseSilenceDetect(stderr string, threshDB float64) []SilenceRange {
	starts := silenceStartRe.FindAllStringSubmatch(stderr, -1)
	ends := silenceEndRe.FindAllStringSubmatch(stderr, -1)
	n := len(starts)
	if len(ends) < n {
		n = len(ends)
	}
	ranges := make([]SilenceRange, 0, n)
	for i := 0; i < n; i++ {
		s, errS := strconv.ParseFloat(starts[i][1], 64)
		e, errE := strconv.ParseFloat(ends[i][1], 64)
		if errS != nil || errE != nil {
			continue
		}
		ranges = append(ranges, SilenceRange{StartS: s, EndS: e, ThreshDB: threshDB})
	}
	return ranges
}

// ExtractKeyframes returns the presentation timestamp of each video
// keyframe of the stream, in seconds.
func ExtractKeyframes(ctx context.Context, path string, streamIndex int) ([]float64, error) {
	args := []string{
		"-v", "quiet",
		"-select_streams", fmt.Sprintf("v:%d", streamIndex),
		"-show_entries", "packet=pts_time,flags",
		"-of", "csv=p=0",
		path,
	}
	out, err := runCaptureBin(ctx, FFprobePath, args)
	if err != nil {
		return nil, fmt.Errorf("extracting keyframes from %s: %w", path, err)
	}
	var pts []float64
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 || !strings.Contains(parts[1], "K") {
			continue
		}
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		pts = append(pts, v)
	}
	return pts, nil
}

// ConcatFLAC losslessly concatenates FLAC segment files in order via the concat demuxer and stream copy.
func ConcatFLAC(ctx context.Context, segmentPaths []string, outPath string) error {
	listFile, err := os.CreateTemp("", "mkvsync_concat_*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(listFile.Name())
	for _, p := range segmentPaths {
		fmt.Fprintf(listFile, "file '%s'\n", p)
	}
	listFile.Close()

	args := []string{"-hide_banner", "-v", "error", "-y", "-f", "concat", "-safe", "0", "-i", listFile.Name(), "-c", "copy", outPath}
	return run(ctx, FFmpegPath, args)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func run(ctx context.Context, bin string, args []string) error {
	return execwrap.Run(ctx, bin, args)
}

func runCapture(ctx context.Context, bin string, args []string) ([]byte, error) {
	return execwrap.Capture(ctx, bin, args)
}

func runCaptureBin(ctx context.Context, bin string, args []string) ([]byte, error) {
	return runCapture(ctx, bin, args)
}

func commandContext(ctx context.Context, bin string, args ...string) *exec.Cmd {
	if ctx == nil {
		return executils.NewCommand(bin, args...)
	}
	return executils.CommandContext(ctx, bin, args...)
}

// GetAudioDurationSeconds returns a file's duration in seconds, parsed from
// ffmpeg's own stderr banner. Kept as the fallback ProbeDuration reaches
// for when ffprobe itself is unavailable.
func GetAudioDurationSeconds(filePath string) (float64, error) {
	cmd := executils.NewCommand(FFmpegPath, "-i", filePath, "-hide_banner", "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()

	outputStr := stderr.String()
	durationIdx := strings.Index(outputStr, "Duration: ")
	if durationIdx == -1 {
		return 0, fmt.Errorf("could not find duration in ffmpeg output")
	}
	durationStart := durationIdx + len("Duration: ")
	commaIdx := strings.Index(outputStr[durationStart:], ",")
	if commaIdx == -1 {
		return 0, fmt.Errorf("could not parse duration format")
	}
	durationStr := outputStr[durationStart : durationStart+commaIdx]

	parts := strings.Split(durationStr, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("unexpected duration format: %s", durationStr)
	}
	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse hours: %w", err)
	}
	minutes, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse minutes: %w", err)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse seconds: %w", err)
	}
	return hours*3600 + minutes*60 + seconds, nil
}


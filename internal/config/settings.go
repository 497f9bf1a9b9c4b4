// Package config loads the static per-job settings surface via viper from
// an XDG-located config.yaml.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Settings is the full static per-job settings surface. Every recognized
// field gets a struct field, a viper default, and a mapstructure tag so
// LoadSettings can unmarshal a YAML file written by the (out-of-scope) GUI
// or hand-edited by a CLI user.
type Settings struct {
	OutputFolder string `mapstructure:"output_folder"`
	TempRoot     string `mapstructure:"temp_root"`

	AnalysisMode      string `mapstructure:"analysis_mode"` // "Audio Correlation" | "VideoDiff"
	AnalysisLangSource1 string `mapstructure:"analysis_lang_source1"`
	AnalysisLangOthers string `mapstructure:"analysis_lang_others"`

	ScanChunkCount      int     `mapstructure:"scan_chunk_count"`
	ScanChunkDuration   float64 `mapstructure:"scan_chunk_duration"`
	ScanStartPercentage float64 `mapstructure:"scan_start_percentage"`
	ScanEndPercentage   float64 `mapstructure:"scan_end_percentage"`
	MinMatchPct         float64 `mapstructure:"min_match_pct"`
	MinAcceptedChunks   int     `mapstructure:"min_accepted_chunks"`
	CorrelationMethod   string  `mapstructure:"correlation_method"`

	FilteringMethod     string  `mapstructure:"filtering_method"` // "None" | "Dialogue Band-Pass Filter" | "Low-Pass Filter"
	FilterBandpassLowcutHz  float64 `mapstructure:"filter_bandpass_lowcut_hz"`
	FilterBandpassHighcutHz float64 `mapstructure:"filter_bandpass_highcut_hz"`
	FilterBandpassOrder     int     `mapstructure:"filter_bandpass_order"`
	FilterLowpassTaps       int     `mapstructure:"filter_lowpass_taps"`
	AudioBandlimitHz        float64 `mapstructure:"audio_bandlimit_hz"`
	UseSoxr                 bool    `mapstructure:"use_soxr"`

	DelaySelectionMode      string  `mapstructure:"delay_selection_mode"`
	EarlyClusterWindow      int     `mapstructure:"early_cluster_window"`
	EarlyClusterThreshold   int     `mapstructure:"early_cluster_threshold"`
	FirstStableMinChunks    int     `mapstructure:"first_stable_min_chunks"`
	FirstStableSkipUnstable bool    `mapstructure:"first_stable_skip_unstable"`

	SegmentCoarseChunkS       float64 `mapstructure:"segment_coarse_chunk_s"`
	SegmentCoarseStepS        float64 `mapstructure:"segment_coarse_step_s"`
	SegmentSearchLocalityS    float64 `mapstructure:"segment_search_locality_s"`
	SegmentFineIterations     int     `mapstructure:"segment_fine_iterations"`
	SegmentFineChunkS         float64 `mapstructure:"segment_fine_chunk_s"`
	SegmentTriageStdDevMs     float64 `mapstructure:"segment_triage_std_dev_ms"`
	SegmentMinConfidenceRatio float64 `mapstructure:"segment_min_confidence_ratio"`
	SegmentResampleEngine     string  `mapstructure:"segment_resample_engine"` // rubberband | atempo | aresample
	SegmentRubberbandTransients string `mapstructure:"segment_rubberband_transients"`
	SegmentRubberbandSmoother   string `mapstructure:"segment_rubberband_smoother"`
	SegmentRubberbandPitchQ     string `mapstructure:"segment_rubberband_pitchq"`
	SegmentQAChunkCount       int     `mapstructure:"segment_qa_chunk_count"`
	SegmentQAMinAccepted      int     `mapstructure:"segment_qa_min_accepted"`

	SegmentDriftSlopeThresholdMsPerS float64 `mapstructure:"segment_drift_slope_threshold_ms_per_s"`
	SegmentDriftR2Threshold          float64 `mapstructure:"segment_drift_r2_threshold"`
	SegmentDriftOutlierSigma         float64 `mapstructure:"segment_drift_outlier_sigma"`

	SteppingSilenceDetection  string  `mapstructure:"stepping_silence_detection"` // external | rms | smart
	SteppingSilenceSearchWindowS float64 `mapstructure:"stepping_silence_search_window_s"`
	SteppingSilenceThresholdDB   float64 `mapstructure:"stepping_silence_threshold_db"`
	SteppingSilenceMinDurationS  float64 `mapstructure:"stepping_silence_min_duration_s"`
	SteppingVideoSnapMaxOffsetS  float64 `mapstructure:"stepping_video_snap_max_offset_s"`
	SteppingVideoSnap         bool    `mapstructure:"stepping_video_snap"`
	SteppingFillMode          string  `mapstructure:"stepping_fill_mode"` // auto | silence | content
	SteppingCorrectionMode    string  `mapstructure:"stepping_correction_mode"` // full | strict | filtered | disabled
	SteppingQualityMode       string  `mapstructure:"stepping_quality_mode"`    // strict | normal | lenient | custom
	SteppingFallbackMode      string  `mapstructure:"stepping_fallback_mode"`   // nearest | skip | reject
	SteppingAdjustSubtitles   bool    `mapstructure:"stepping_adjust_subtitles"`
	SteppingMinChunksPerCluster   int     `mapstructure:"stepping_min_chunks_per_cluster"`
	SteppingMinClusterPercentage float64 `mapstructure:"stepping_min_cluster_percentage"`
	SteppingMinClusterDurationS  float64 `mapstructure:"stepping_min_cluster_duration_s"`
	SteppingMinMatchQualityPct   float64 `mapstructure:"stepping_min_match_quality_pct"`
	SteppingMinTotalClusters     int     `mapstructure:"stepping_min_total_clusters"`

	DetectionDBSCANEpsilonMs   float64 `mapstructure:"detection_dbscan_epsilon_ms"`
	DetectionDBSCANMinSamples  int     `mapstructure:"detection_dbscan_min_samples"`

	DriftDetectionSlopeThresholdLossless float64 `mapstructure:"drift_detection_slope_threshold_lossless"`
	DriftDetectionSlopeThresholdLossy    float64 `mapstructure:"drift_detection_slope_threshold_lossy"`
	DriftDetectionR2Threshold            float64 `mapstructure:"drift_detection_r2_threshold"`
	DriftDetectionR2ThresholdLossless    float64 `mapstructure:"drift_detection_r2_threshold_lossless"`

	VideodiffErrorMin float64 `mapstructure:"videodiff_error_min"`
	VideodiffErrorMax float64 `mapstructure:"videodiff_error_max"`

	SnapChapters    bool    `mapstructure:"snap_chapters"`
	SnapMode        string  `mapstructure:"snap_mode"` // previous | nearest
	SnapThresholdMs float64 `mapstructure:"snap_threshold_ms"`
	SnapStartsOnly  bool    `mapstructure:"snap_starts_only"`
	RenameChapters  bool    `mapstructure:"rename_chapters"`

	ApplyDialogNormGain        bool `mapstructure:"apply_dialog_norm_gain"`
	DisableTrackStatisticsTags bool `mapstructure:"disable_track_statistics_tags"`
	DisableHeaderCompression   bool `mapstructure:"disable_header_compression"`

	SyncMode           string `mapstructure:"sync_mode"` // positive_only | allow_negative | preserve_existing
	SubtitleRounding   string `mapstructure:"subtitle_rounding"` // floor | round | ceil
	SubtitleSyncMode   string `mapstructure:"subtitle_sync_mode"`

	WorkersMax int `mapstructure:"workers_max"`
}

func getConfigPath() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, "mkvsync")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

func setDefaults() {
	viper.SetDefault("output_folder", "")
	viper.SetDefault("temp_root", filepath.Join(xdg.CacheHome, "mkvsync", "tmp"))

	viper.SetDefault("analysis_mode", "Audio Correlation")
	viper.SetDefault("analysis_lang_source1", "eng")
	viper.SetDefault("analysis_lang_others", "eng")

	viper.SetDefault("scan_chunk_count", 10)
	viper.SetDefault("scan_chunk_duration", 15.0)
	viper.SetDefault("scan_start_percentage", 5.0)
	viper.SetDefault("scan_end_percentage", 95.0)
	viper.SetDefault("min_match_pct", 40.0)
	viper.SetDefault("min_accepted_chunks", 4)
	viper.SetDefault("correlation_method", "gcc-phat")

	viper.SetDefault("filtering_method", "None")
	viper.SetDefault("filter_bandpass_lowcut_hz", 300.0)
	viper.SetDefault("filter_bandpass_highcut_hz", 3400.0)
	viper.SetDefault("filter_bandpass_order", 4)
	viper.SetDefault("filter_lowpass_taps", 101)
	viper.SetDefault("audio_bandlimit_hz", 8000.0)
	viper.SetDefault("use_soxr", true)

	viper.SetDefault("delay_selection_mode", "Mode (Clustered)")
	viper.SetDefault("early_cluster_window", 5)
	viper.SetDefault("early_cluster_threshold", 3)
	viper.SetDefault("first_stable_min_chunks", 3)
	viper.SetDefault("first_stable_skip_unstable", true)

	viper.SetDefault("segment_coarse_chunk_s", 10.0)
	viper.SetDefault("segment_coarse_step_s", 30.0)
	viper.SetDefault("segment_search_locality_s", 2.0)
	viper.SetDefault("segment_fine_iterations", 12)
	viper.SetDefault("segment_fine_chunk_s", 2.0)
	viper.SetDefault("segment_triage_std_dev_ms", 15.0)
	viper.SetDefault("segment_min_confidence_ratio", 2.0)
	viper.SetDefault("segment_resample_engine", "rubberband")
	viper.SetDefault("segment_rubberband_transients", "crisp")
	viper.SetDefault("segment_rubberband_smoother", "on")
	viper.SetDefault("segment_rubberband_pitchq", "quality")
	viper.SetDefault("segment_qa_chunk_count", 8)
	viper.SetDefault("segment_qa_min_accepted", 3)

	viper.SetDefault("segment_drift_slope_threshold_ms_per_s", 1.0)
	viper.SetDefault("segment_drift_r2_threshold", 0.90)
	viper.SetDefault("segment_drift_outlier_sigma", 2.5)

	viper.SetDefault("stepping_silence_detection", "smart")
	viper.SetDefault("stepping_silence_search_window_s", 3.0)
	viper.SetDefault("stepping_silence_threshold_db", -40.0)
	viper.SetDefault("stepping_silence_min_duration_s", 0.15)
	viper.SetDefault("stepping_video_snap_max_offset_s", 1.0)
	viper.SetDefault("stepping_video_snap", true)
	viper.SetDefault("stepping_fill_mode", "auto")
	viper.SetDefault("stepping_correction_mode", "filtered")
	viper.SetDefault("stepping_quality_mode", "normal")
	viper.SetDefault("stepping_fallback_mode", "skip")
	viper.SetDefault("stepping_adjust_subtitles", true)
	viper.SetDefault("stepping_min_chunks_per_cluster", 3)
	viper.SetDefault("stepping_min_cluster_percentage", 5.0)
	viper.SetDefault("stepping_min_cluster_duration_s", 20.0)
	viper.SetDefault("stepping_min_match_quality_pct", 85.0)
	viper.SetDefault("stepping_min_total_clusters", 2)

	viper.SetDefault("detection_dbscan_epsilon_ms", 20.0)
	viper.SetDefault("detection_dbscan_min_samples", 2)

	viper.SetDefault("drift_detection_slope_threshold_lossless", 0.5)
	viper.SetDefault("drift_detection_slope_threshold_lossy", 1.5)
	viper.SetDefault("drift_detection_r2_threshold", 0.92)
	viper.SetDefault("drift_detection_r2_threshold_lossless", 0.85)

	viper.SetDefault("videodiff_error_min", 0.0)
	viper.SetDefault("videodiff_error_max", 100.0)

	viper.SetDefault("snap_chapters", false)
	viper.SetDefault("snap_mode", "previous")
	viper.SetDefault("snap_threshold_ms", 250.0)
	viper.SetDefault("snap_starts_only", true)
	viper.SetDefault("rename_chapters", false)

	viper.SetDefault("apply_dialog_norm_gain", false)
	viper.SetDefault("disable_track_statistics_tags", false)
	viper.SetDefault("disable_header_compression", false)

	viper.SetDefault("sync_mode", "positive_only")
	viper.SetDefault("subtitle_rounding", "round")
	viper.SetDefault("subtitle_sync_mode", "simple")

	viper.SetDefault("workers_max", 0) // 0 means "derive from gopsutil"
}

// InitConfig sets defaults, points viper at
// either customPath or the XDG config path, read the file if present, write
// a default one if not.
func InitConfig(customPath string) error {
	if customPath != "" {
		viper.SetConfigFile(customPath)
	} else {
		configPath, err := getConfigPath()
		if err != nil {
			return err
		}
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := viper.SafeWriteConfigAs(viper.ConfigFileUsed()); err != nil {
			return err
		}
	}

	return nil
}

func LoadSettings() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

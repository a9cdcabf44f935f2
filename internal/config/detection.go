package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
)

// Detection holds model identifiers and thresholds. Sessions copy the values
// they need at start, so a loaded Detection is never mutated afterwards.
type Detection struct {
	App   AppSettings   `yaml:"app"`
	Voice VoiceSettings `yaml:"voice"`
	Video VideoSettings `yaml:"video"`
}

type AppSettings struct {
	ModelDirectory        string `yaml:"model_directory"`
	OptOutOfScreenCapture bool   `yaml:"opt_out_of_screen_capture"`
}

type VoiceSettings struct {
	WindowSamples     int             `yaml:"window_samples"`
	HopSamples        int             `yaml:"hop_samples"`
	RollingWindowSize int             `yaml:"rolling_window_size"`
	MinimumAlertSize  int             `yaml:"minimum_alert_size"`
	UseWinReverser    bool            `yaml:"use_win_reverser"`
	Generic           VoiceThresholds `yaml:"generic"`
	Live              VoiceThresholds `yaml:"live"`
}

type VoiceThresholds struct {
	ModelIdentifier         string  `yaml:"model_identifier"`
	ProbScoreThreshold      float64 `yaml:"prob_score_threshold"`
	FakeProportionThreshold float64 `yaml:"fake_proportion_threshold"`
}

type VideoSettings struct {
	DetectionSize                 int             `yaml:"detection_size"`
	MaxNumberFaces                int             `yaml:"max_number_faces"`
	FaceInputSize                 int             `yaml:"face_input_size"`
	RollingWindowExpiryDuration   float64         `yaml:"rolling_window_expiry_duration"`   // seconds
	RollingWindowCooldownDuration float64         `yaml:"rolling_window_cooldown_duration"` // seconds
	RollingWindowMinimumAlertSize int             `yaml:"rolling_window_minimum_alert_size"`
	Generic                       VideoThresholds `yaml:"generic"`
	Live                          VideoThresholds `yaml:"live"`
}

type VideoThresholds struct {
	ModelIdentifier         string  `yaml:"model_identifier"`
	ProbFakeThreshold       float64 `yaml:"prob_fake_threshold"`
	FakeAndContourThreshold float64 `yaml:"fake_and_contour_threshold"`
	MaskThreshold           float64 `yaml:"mask_threshold"`
	FakeProportionThreshold float64 `yaml:"fake_proportion_threshold"`
}

// DefaultDetection returns the thresholds used when no file is configured.
func DefaultDetection() Detection {
	return Detection{
		App: AppSettings{ModelDirectory: "models"},
		Voice: VoiceSettings{
			WindowSamples:     64000,
			RollingWindowSize: 5,
			MinimumAlertSize:  3,
			Generic:           VoiceThresholds{ModelIdentifier: "voice-generic", ProbScoreThreshold: 0.5, FakeProportionThreshold: 0.6},
			Live:              VoiceThresholds{ModelIdentifier: "voice-live", ProbScoreThreshold: 0.6, FakeProportionThreshold: 0.7},
		},
		Video: VideoSettings{
			DetectionSize:                 300,
			MaxNumberFaces:                4,
			FaceInputSize:                 224,
			RollingWindowExpiryDuration:   10,
			RollingWindowCooldownDuration: 5,
			RollingWindowMinimumAlertSize: 3,
			Generic: VideoThresholds{
				ModelIdentifier: "video-generic", ProbFakeThreshold: 0.6,
				FakeAndContourThreshold: 1.0, MaskThreshold: 0.4, FakeProportionThreshold: 0.5,
			},
			Live: VideoThresholds{
				ModelIdentifier: "video-live", ProbFakeThreshold: 0.7,
				FakeAndContourThreshold: 1.1, MaskThreshold: 0.5, FakeProportionThreshold: 0.5,
			},
		},
	}
}

// LoadDetection reads a YAML thresholds file. Unset fields keep their defaults.
func LoadDetection(path string) (*Detection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadDetectionFromReader(f)
}

// LoadDetectionFromReader decodes and validates YAML from r. Unknown keys are
// rejected.
func LoadDetectionFromReader(r io.Reader) (*Detection, error) {
	det := DefaultDetection()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&det); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := det.Validate(); err != nil {
		return nil, err
	}
	return &det, nil
}

// Validate reports every invalid field at once.
func (d *Detection) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %d", name, v))
		}
	}
	unit := func(name string, v float64) {
		if v < 0 || v > 1 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("%s must be in [0,1], got %v", name, v))
		}
	}

	positive("voice.window_samples", d.Voice.WindowSamples)
	positive("voice.rolling_window_size", d.Voice.RollingWindowSize)
	if d.Voice.HopSamples < 0 || d.Voice.HopSamples > d.Voice.WindowSamples {
		errs = append(errs, fmt.Errorf("voice.hop_samples must be in [0, window_samples], got %d", d.Voice.HopSamples))
	}
	if d.Voice.MinimumAlertSize > d.Voice.RollingWindowSize {
		errs = append(errs, fmt.Errorf("voice.minimum_alert_size %d exceeds rolling_window_size %d",
			d.Voice.MinimumAlertSize, d.Voice.RollingWindowSize))
	}
	for name, th := range map[string]VoiceThresholds{"voice.generic": d.Voice.Generic, "voice.live": d.Voice.Live} {
		unit(name+".fake_proportion_threshold", th.FakeProportionThreshold)
	}

	positive("video.detection_size", d.Video.DetectionSize)
	positive("video.max_number_faces", d.Video.MaxNumberFaces)
	positive("video.face_input_size", d.Video.FaceInputSize)
	if d.Video.RollingWindowExpiryDuration <= 0 {
		errs = append(errs, fmt.Errorf("video.rolling_window_expiry_duration must be > 0, got %v", d.Video.RollingWindowExpiryDuration))
	}
	if d.Video.RollingWindowCooldownDuration < 0 {
		errs = append(errs, fmt.Errorf("video.rolling_window_cooldown_duration must be >= 0, got %v", d.Video.RollingWindowCooldownDuration))
	}
	for name, th := range map[string]VideoThresholds{"video.generic": d.Video.Generic, "video.live": d.Video.Live} {
		unit(name+".prob_fake_threshold", th.ProbFakeThreshold)
		unit(name+".mask_threshold", th.MaskThreshold)
		unit(name+".fake_proportion_threshold", th.FakeProportionThreshold)
	}

	if d.App.ModelDirectory == "" {
		slog.Warn("app.model_directory is empty, model server defaults apply")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid detection settings: %w", errors.Join(errs...))
	}
	return nil
}

// VoiceFor returns the voice thresholds for mode.
func (d *Detection) VoiceFor(mode detect.Mode) VoiceThresholds {
	if mode == detect.ModeLiveCall {
		return d.Voice.Live
	}
	return d.Voice.Generic
}

// VideoFor returns the video thresholds for mode.
func (d *Detection) VideoFor(mode detect.Mode) VideoThresholds {
	if mode == detect.ModeLiveCall {
		return d.Video.Live
	}
	return d.Video.Generic
}

// Cooldown returns the latch duration of the video classifier.
func (v VideoSettings) Cooldown() time.Duration {
	return time.Duration(v.RollingWindowCooldownDuration * float64(time.Second))
}

// WindowSamples converts the rolling window expiry into a sample count at
// captureRate captures per second.
func (v VideoSettings) WindowSamples(captureRate float64) int {
	if captureRate <= 0 {
		captureRate = 1
	}
	return max(1, int(math.Ceil(v.RollingWindowExpiryDuration*captureRate)))
}

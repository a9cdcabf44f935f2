package face

import (
	"image"
	"time"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
	"github.com/GriffinCanCode/deepwatch/internal/rolling"
	"github.com/GriffinCanCode/deepwatch/internal/syncx"
)

// Thresholds are the per-mode calibration values of the classifier.
type Thresholds struct {
	ProbFake       float64
	FakeAndContour float64
	Mask           float64
	FakeProportion float64
}

// Config for a Classifier
type Config struct {
	Thresholds
	WindowSize       int
	MinimumAlertSize int
	Cooldown         time.Duration
}

// Verdict is the local decision for a single face.
type Verdict struct {
	ContourRatio float32
	MaskScore    float32
	IsFake       bool
}

// Classifier smooths per-capture fake signals into a session verdict.
// Push and Current belong to the session loop; the preview may be read from
// any goroutine.
type Classifier struct {
	cfg       Config
	window    *rolling.Buffer[bool]
	verdict   detect.FaceClassification
	latchedAt time.Time
	now       func() time.Time
	preview   *syncx.RWGuard[[]detect.ScreenshotFace]
}

// NewClassifier creates a classifier in the Real state.
func NewClassifier(cfg Config) *Classifier {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1
	}
	return &Classifier{
		cfg:     cfg,
		window:  rolling.New[bool](cfg.WindowSize),
		now:     time.Now,
		preview: syncx.NewGuard[[]detect.ScreenshotFace](nil),
	}
}

// Evaluate decides whether one face is fake. Probability alone is never
// enough: the contour or the mask signal has to agree.
func (c *Classifier) Evaluate(mask *image.Gray, prob float32) Verdict {
	v := Verdict{ContourRatio: ContourRatio(mask), MaskScore: MaskScore(mask)}
	p := float64(prob)
	v.IsFake = p > c.cfg.ProbFake &&
		(p+float64(v.ContourRatio) > c.cfg.FakeAndContour || float64(v.MaskScore) > c.cfg.Mask)
	return v
}

// Push records one capture outcome and returns the latched verdict.
func (c *Classifier) Push(fake bool) detect.FaceClassification {
	c.window.Append(fake)
	if c.alerting() {
		c.verdict = detect.FaceDeepfake
		c.latchedAt = c.now()
		return c.verdict
	}
	return c.Current()
}

// Current returns the verdict, releasing an expired latch.
func (c *Classifier) Current() detect.FaceClassification {
	if c.verdict == detect.FaceDeepfake && !c.alerting() && c.now().Sub(c.latchedAt) >= c.cfg.Cooldown {
		c.verdict = detect.FaceReal
	}
	return c.verdict
}

func (c *Classifier) alerting() bool {
	return c.window.Len() >= c.cfg.MinimumAlertSize && c.ProportionOfFakes() >= c.cfg.FakeProportion
}

// ProportionOfFakes is the fraction of fake captures in the window.
func (c *Classifier) ProportionOfFakes() float64 {
	return c.window.Proportion(func(f bool) bool { return f })
}

// SetPreview replaces the latest face batch.
func (c *Classifier) SetPreview(faces []detect.ScreenshotFace) {
	c.preview.Set(append([]detect.ScreenshotFace(nil), faces...))
}

// Preview returns the latest face batch.
func (c *Classifier) Preview() []detect.ScreenshotFace {
	return c.preview.Get()
}

// PreviewGrid arranges the latest face batch for display.
func (c *Classifier) PreviewGrid(cell int) image.Image {
	return Grid(c.Preview(), cell)
}

// Reset clears the window, the latch and the preview.
func (c *Classifier) Reset() {
	c.window.Clear()
	c.verdict = detect.FaceReal
	c.latchedAt = time.Time{}
	c.preview.Set(nil)
}

// ContourRatio is the fraction of mask pixels at or above BinarizationLevel.
func ContourRatio(mask *image.Gray) float32 {
	if mask == nil {
		return 0
	}
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	on := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y >= BinarizationLevel {
				on++
			}
		}
	}
	return float32(on) / float32(total)
}

// MaskScore is the mean mask intensity scaled to [0,1].
func MaskScore(mask *image.Gray) float32 {
	if mask == nil {
		return 0
	}
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	var sum int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sum += int(mask.GrayAt(x, y).Y)
		}
	}
	return float32(sum) / float32(total*255)
}

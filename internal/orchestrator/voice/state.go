package voice

import (
	"fmt"

	"github.com/GriffinCanCode/deepwatch/internal/detect"
)

// State is the result of one polling iteration: NewInference, NoAudio or NoChange.
type State interface {
	isState()
}

// NewInference is a completed classification for one window.
type NewInference struct {
	Outcome           Outcome
	Score             float32
	ProportionOfFakes float64
	History           int // scores currently in the rolling window
}

// NoAudio means the window is not full yet.
type NoAudio struct{}

// NoChange means no audio arrived since the last poll.
type NoChange struct{}

func (NewInference) isState() {}
func (NoAudio) isState()      {}
func (NoChange) isState()     {}

// Outcome is the raw classification of one window: DeepFake, Real,
// Analyzing or Invalid.
type Outcome interface {
	isOutcome()
}

// DeepFake carries the flagged window so it can be saved as an artifact.
type DeepFake struct {
	Samples []float32
	Rate    int
	Score   float32
}

type Real struct {
	Score float32
}

// Analyzing means the score history is too short to judge.
type Analyzing struct{}

// Invalid means the input or the inference call was unusable.
type Invalid struct {
	Reason string
}

func (DeepFake) isOutcome()  {}
func (Real) isOutcome()      {}
func (Analyzing) isOutcome() {}
func (Invalid) isOutcome()   {}

// Classify maps a window result onto the session-level verdict.
func Classify(st NewInference, proportionThreshold float64) (detect.VoiceClassification, error) {
	switch o := st.Outcome.(type) {
	case Analyzing:
		return detect.VoiceAnalyzing, nil
	case Invalid:
		return detect.VoiceInvalid, nil
	case DeepFake, Real:
		if st.ProportionOfFakes >= proportionThreshold {
			return detect.VoiceDeepfake, nil
		}
		return detect.VoiceReal, nil
	default:
		return detect.VoiceNone, fmt.Errorf("voice: unknown outcome %T", o)
	}
}

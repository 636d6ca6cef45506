package input

import (
	"math"
)

// VADParams tune the energy-based endpoint detector. All durations are in
// milliseconds and are quantized to whole frames.
type VADParams struct {
	FrameDurationMS   int
	SpeechThreshold   int
	SilenceThreshold  int
	SilenceDurationMS int
	MaxDurationMS     int
}

// Decision is the detector's verdict after consuming a frame.
type Decision int

const (
	// DecisionContinue means capture should keep feeding frames.
	DecisionContinue Decision = iota
	// DecisionDone means an utterance ended (trailing silence elapsed, or
	// the hard cap hit while speech was in progress).
	DecisionDone
	// DecisionTimedOut means the hard cap elapsed with no speech at all.
	DecisionTimedOut
)

type vadState int

const (
	stateAwaitingSpeech vadState = iota
	stateSpeaking
	stateSilenceHold
)

// Detector is a deterministic endpoint detector over fixed-size PCM frames.
// It buffers samples from speech onset so the recognizer never sees the
// leading silence.
type Detector struct {
	params VADParams

	state     vadState
	elapsedMS int
	silenceMS int
	captured  []int16
}

func NewDetector(params VADParams) *Detector {
	return &Detector{params: params}
}

// Feed consumes one frame. Once a terminal decision is returned the detector
// must not be fed again.
func (d *Detector) Feed(frame []int16) Decision {
	d.elapsedMS += d.params.FrameDurationMS
	level := rms(frame)

	switch d.state {
	case stateAwaitingSpeech:
		if level >= float64(d.params.SpeechThreshold) {
			d.state = stateSpeaking
			d.captured = append(d.captured, frame...)
		}
	case stateSpeaking:
		d.captured = append(d.captured, frame...)
		if level < float64(d.params.SilenceThreshold) {
			d.state = stateSilenceHold
			d.silenceMS = d.params.FrameDurationMS
		}
	case stateSilenceHold:
		d.captured = append(d.captured, frame...)
		if level >= float64(d.params.SpeechThreshold) {
			d.state = stateSpeaking
			d.silenceMS = 0
		} else {
			d.silenceMS += d.params.FrameDurationMS
			if d.silenceMS >= d.params.SilenceDurationMS {
				return DecisionDone
			}
		}
	}

	if d.elapsedMS >= d.params.MaxDurationMS {
		if d.state == stateAwaitingSpeech {
			return DecisionTimedOut
		}
		return DecisionDone
	}
	return DecisionContinue
}

// Captured returns the buffered samples from speech onset onward.
func (d *Detector) Captured() []int16 {
	return d.captured
}

// ElapsedMS reports total audio time consumed.
func (d *Detector) ElapsedMS() int {
	return d.elapsedMS
}

// SpeechDetected reports whether speech onset was ever observed.
func (d *Detector) SpeechDetected() bool {
	return d.state != stateAwaitingSpeech
}

// rms computes the root mean square amplitude of a frame.
func rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

package output

import (
	"fmt"
	"strings"

	"github.com/openvoiced/voiced/internal/fault"
)

// ChannelTarget names a spatial playback target. Each target owns an
// independent FIFO queue; requests on different targets never wait on each
// other.
type ChannelTarget string

const (
	TargetLeft      ChannelTarget = "left"
	TargetRight     ChannelTarget = "right"
	TargetCenter    ChannelTarget = "center" // phantom center over L+R
	TargetStereo    ChannelTarget = "stereo"
	TargetRearLeft  ChannelTarget = "rear-left"
	TargetRearRight ChannelTarget = "rear-right"
	TargetFC        ChannelTarget = "fc" // discrete center speaker
	TargetLFE       ChannelTarget = "lfe"
)

// AllTargets is the full target list in presentation order.
var AllTargets = []ChannelTarget{
	TargetLeft, TargetRight, TargetCenter, TargetStereo,
	TargetRearLeft, TargetRearRight, TargetFC, TargetLFE,
}

// channelSpec describes how a target maps onto the output device.
type channelSpec struct {
	// left/right gains used when downmixing onto a stereo pair
	gainL, gainR float64
	// surround targets require a device with more than two channels
	surround bool
	// minimum device channel count
	minChannels int
}

func (t ChannelTarget) spec(phantomGain float64) (channelSpec, bool) {
	switch t {
	case TargetLeft:
		return channelSpec{gainL: 1, gainR: 0, minChannels: 2}, true
	case TargetRight:
		return channelSpec{gainL: 0, gainR: 1, minChannels: 2}, true
	case TargetCenter:
		return channelSpec{gainL: phantomGain, gainR: phantomGain, minChannels: 2}, true
	case TargetStereo:
		return channelSpec{gainL: 1, gainR: 1, minChannels: 2}, true
	case TargetRearLeft:
		return channelSpec{gainL: 1, gainR: 0, surround: true, minChannels: 4}, true
	case TargetRearRight:
		return channelSpec{gainL: 0, gainR: 1, surround: true, minChannels: 4}, true
	case TargetFC:
		return channelSpec{gainL: 1, gainR: 1, surround: true, minChannels: 3}, true
	case TargetLFE:
		return channelSpec{gainL: 1, gainR: 1, surround: true, minChannels: 6}, true
	}
	return channelSpec{}, false
}

// IsSurround reports whether the target needs a non-stereo device.
func (t ChannelTarget) IsSurround() bool {
	s, ok := t.spec(1)
	return ok && s.surround
}

// ParseTarget resolves a caller-supplied target name. Empty defaults to
// stereo.
func ParseTarget(name string) (ChannelTarget, error) {
	if name == "" {
		return TargetStereo, nil
	}
	t := ChannelTarget(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := t.spec(1); !ok {
		return "", fmt.Errorf("%w: unknown channel target %q", fault.ErrInvalidTarget, name)
	}
	return t, nil
}

// Clip is decoded PCM ready for playback.
type Clip struct {
	Samples    []int
	SampleRate int
	Channels   int
}

// SizeBytes is the buffered footprint charged against the audio budget.
func (c *Clip) SizeBytes() int64 {
	return int64(len(c.Samples)) * 2
}

// DurationMS is the clip length in milliseconds.
func (c *Clip) DurationMS() int64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return int64(frames) * 1000 / int64(c.SampleRate)
}

// Sink describes an output device.
type Sink struct {
	ID      string
	Name    string
	Default bool
}

package input

import "testing"

func testParams() VADParams {
	return VADParams{
		FrameDurationMS:   10,
		SpeechThreshold:   500,
		SilenceThreshold:  400,
		SilenceDurationMS: 1500,
		MaxDurationMS:     15000,
	}
}

// frame returns a frame whose RMS equals amp.
func frame(amp int16, size int) []int16 {
	f := make([]int16, size)
	for i := range f {
		if i%2 == 0 {
			f[i] = amp
		} else {
			f[i] = -amp
		}
	}
	return f
}

func feedN(t *testing.T, d *Detector, amp int16, n int) Decision {
	t.Helper()
	for i := 0; i < n; i++ {
		if dec := d.Feed(frame(amp, 160)); dec != DecisionContinue {
			return dec
		}
	}
	return DecisionContinue
}

func TestDetectorEndpointsAfterTrailingSilence(t *testing.T) {
	d := NewDetector(testParams())

	// 500ms leading silence, 1s speech, then silence.
	if dec := feedN(t, d, 100, 50); dec != DecisionContinue {
		t.Fatalf("leading silence terminated early: %v", dec)
	}
	if dec := feedN(t, d, 1000, 100); dec != DecisionContinue {
		t.Fatalf("speech terminated early: %v", dec)
	}

	// Exactly 150 silence frames (1500ms) end the utterance, on the last
	// frame and not before.
	if dec := feedN(t, d, 100, 149); dec != DecisionContinue {
		t.Fatalf("silence hold terminated early: %v", dec)
	}
	if dec := d.Feed(frame(100, 160)); dec != DecisionDone {
		t.Fatalf("expected DecisionDone on 150th silence frame, got %v", dec)
	}
	if got := d.ElapsedMS(); got != 3000 {
		t.Errorf("ElapsedMS = %d, want 3000", got)
	}
}

func TestDetectorResumesOnReSpeech(t *testing.T) {
	d := NewDetector(testParams())

	feedN(t, d, 1000, 50) // speech
	feedN(t, d, 100, 100) // 1000ms pause, under the hold
	feedN(t, d, 1000, 50) // re-speech resets the hold
	if dec := feedN(t, d, 100, 149); dec != DecisionContinue {
		t.Fatalf("hold should restart after re-speech, got %v", dec)
	}
	if dec := d.Feed(frame(100, 160)); dec != DecisionDone {
		t.Fatalf("expected DecisionDone, got %v", dec)
	}
}

func TestDetectorTimesOutWithoutSpeech(t *testing.T) {
	p := testParams()
	p.MaxDurationMS = 1000
	d := NewDetector(p)

	if dec := feedN(t, d, 100, 99); dec != DecisionContinue {
		t.Fatalf("timed out early: %v", dec)
	}
	if dec := d.Feed(frame(100, 160)); dec != DecisionTimedOut {
		t.Fatalf("expected DecisionTimedOut at hard cap, got %v", dec)
	}
	if d.SpeechDetected() {
		t.Error("SpeechDetected should be false")
	}
	if len(d.Captured()) != 0 {
		t.Errorf("captured %d samples of pure silence", len(d.Captured()))
	}
}

func TestDetectorHardCapDuringSpeech(t *testing.T) {
	p := testParams()
	p.MaxDurationMS = 1000
	d := NewDetector(p)

	if dec := feedN(t, d, 1000, 99); dec != DecisionContinue {
		t.Fatalf("capped early: %v", dec)
	}
	if dec := d.Feed(frame(1000, 160)); dec != DecisionDone {
		t.Fatalf("expected DecisionDone when capped mid-speech, got %v", dec)
	}
	if !d.SpeechDetected() {
		t.Error("SpeechDetected should be true")
	}
	if got := len(d.Captured()); got != 100*160 {
		t.Errorf("captured %d samples, want %d", got, 100*160)
	}
}

func TestDetectorExcludesLeadingSilence(t *testing.T) {
	d := NewDetector(testParams())
	feedN(t, d, 100, 30) // 300ms silence, not buffered
	feedN(t, d, 1000, 10)
	if got := len(d.Captured()); got != 10*160 {
		t.Errorf("captured %d samples, want %d (speech only)", got, 10*160)
	}
}

func TestDetectorAmbiguousBandKeepsSpeaking(t *testing.T) {
	d := NewDetector(testParams())
	feedN(t, d, 1000, 10)
	// Levels between the thresholds neither end speech nor start the hold.
	if dec := feedN(t, d, 450, 200); dec != DecisionContinue {
		t.Fatalf("ambiguous band terminated capture: %v", dec)
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %f", got)
	}
	if got := rms(frame(1000, 160)); got < 999 || got > 1001 {
		t.Errorf("rms of ±1000 square wave = %f, want ~1000", got)
	}
}

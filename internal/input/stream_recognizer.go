package input

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

// streamRecognizer speaks the Wyoming event protocol to a transcription
// server over TCP. Each event is a JSON header line; audio events carry a
// binary payload of payload_length bytes immediately after the header.
type streamRecognizer struct {
	addr    string
	timeout time.Duration
	log     *slog.Logger
}

func newStreamRecognizer(cfg config.InputConfig, log *slog.Logger) *streamRecognizer {
	return &streamRecognizer{
		addr:    fmt.Sprintf("%s:%d", cfg.StreamHost, cfg.StreamPort),
		timeout: time.Duration(cfg.RecognizeTimeout) * time.Millisecond,
		log:     log,
	}
}

type wyomingEvent struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	PayloadLength int             `json:"payload_length,omitempty"`
}

type wyomingAudioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

type wyomingTranscript struct {
	Text string `json:"text"`
}

const streamChunkSamples = 1024

func (r *streamRecognizer) Transcribe(ctx context.Context, samples []int16, sampleRate int) (string, error) {
	dialer := net.Dialer{Timeout: r.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %s", fault.ErrBackendUnavailable, r.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	w := bufio.NewWriter(conn)
	format, _ := json.Marshal(wyomingAudioFormat{Rate: sampleRate, Width: 2, Channels: 1})

	if err := writeEvent(w, wyomingEvent{Type: "transcribe"}, nil); err != nil {
		return "", err
	}
	if err := writeEvent(w, wyomingEvent{Type: "audio-start", Data: format}, nil); err != nil {
		return "", err
	}
	for off := 0; off < len(samples); off += streamChunkSamples {
		end := off + streamChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		payload := make([]byte, (end-off)*2)
		for i, s := range samples[off:end] {
			binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
		}
		ev := wyomingEvent{Type: "audio-chunk", Data: format, PayloadLength: len(payload)}
		if err := writeEvent(w, ev, payload); err != nil {
			return "", err
		}
	}
	if err := writeEvent(w, wyomingEvent{Type: "audio-stop", Data: format}, nil); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("%w: flush audio stream: %s", fault.ErrBackendUnavailable, err)
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var ev wyomingEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Type != "transcript" {
			continue
		}
		var t wyomingTranscript
		if err := json.Unmarshal(ev.Data, &t); err != nil {
			return "", fmt.Errorf("%w: malformed transcript event: %s", fault.ErrBackendUnavailable, err)
		}
		return t.Text, nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("%w: read transcript: %s", fault.ErrBackendUnavailable, err)
	}
	return "", fmt.Errorf("%w: server closed stream without a transcript", fault.ErrBackendUnavailable)
}

func writeEvent(w *bufio.Writer, ev wyomingEvent, payload []byte) error {
	header, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(header, '\n')); err != nil {
		return fmt.Errorf("%w: write event: %s", fault.ErrBackendUnavailable, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("%w: write payload: %s", fault.ErrBackendUnavailable, err)
		}
	}
	return nil
}

func (r *streamRecognizer) Healthy() bool {
	conn, err := net.DialTimeout("tcp", r.addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

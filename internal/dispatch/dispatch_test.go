package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/openvoiced/voiced/internal/bus"
	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/corrections"
	"github.com/openvoiced/voiced/internal/governor"
	"github.com/openvoiced/voiced/internal/input"
	"github.com/openvoiced/voiced/internal/output"
	"github.com/openvoiced/voiced/internal/proactive"
	"github.com/openvoiced/voiced/internal/protocol"
	"github.com/openvoiced/voiced/internal/reason"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("create test nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("test nats server did not start")
	}
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{ns.ClientURL()},
		ConnectTimeout: 2000,
	}, testLogger())
	if err != nil {
		t.Fatalf("connect to test bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func startStack(t *testing.T, mutate func(*config.Config)) *bus.Client {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	log := testLogger()
	gov := governor.New(cfg.Governor, log)

	out, err := output.NewService(cfg.Output, gov, log)
	if err != nil {
		t.Fatalf("output.NewService: %v", err)
	}
	if err := out.Start(context.Background()); err != nil {
		t.Fatalf("output.Start: %v", err)
	}
	t.Cleanup(out.Close)

	in, err := input.NewService(cfg.Input, log)
	if err != nil {
		t.Fatalf("input.NewService: %v", err)
	}

	rsn, err := reason.NewService(cfg.Reasoning, log)
	if err != nil {
		t.Fatalf("reason.NewService: %v", err)
	}
	rsn.SetSpeaker(out)

	corrCfg := cfg.Corrections
	corrCfg.Path = filepath.Join(t.TempDir(), "corrections.json")
	corr, err := corrections.Open(corrCfg, log)
	if err != nil {
		t.Fatalf("corrections.Open: %v", err)
	}

	pro := proactive.NewService(cfg.Proactive, rsn, log)

	client := startBus(t)
	svc := NewService(client, gov, out, in, rsn, corr, pro, log)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("dispatch.Start: %v", err)
	}
	t.Cleanup(svc.Close)
	return client
}

func request(t *testing.T, client *bus.Client, subject string, req, reply any) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	msg, err := client.Conn().Request(subject, data, 20*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
}

func TestSpeakRoundTrip(t *testing.T) {
	client := startStack(t, nil)
	var reply protocol.Ack
	request(t, client, protocol.SubjectSpeak, protocol.SpeakRequest{
		RequestID: "r1", CallerID: "test", Text: "hello", Blocking: true,
	}, &reply)
	if !reply.OK {
		t.Fatalf("speak failed: %+v", reply)
	}
	if reply.RequestID != "r1" {
		t.Errorf("request id not echoed: %q", reply.RequestID)
	}
}

func TestSpeakInvalidTarget(t *testing.T) {
	client := startStack(t, nil)
	var reply protocol.Ack
	request(t, client, protocol.SubjectSpeak, protocol.SpeakRequest{
		RequestID: "r1", CallerID: "test", Text: "hello", Target: "ceiling",
	}, &reply)
	if reply.OK || reply.ErrorCode != protocol.ErrCodeInvalidTarget {
		t.Fatalf("expected invalid_target, got %+v", reply)
	}
}

func TestSpeakRateLimited(t *testing.T) {
	client := startStack(t, func(c *config.Config) {
		c.Governor.SpeakLimit = 1
	})
	var first protocol.Ack
	request(t, client, protocol.SubjectSpeak, protocol.SpeakRequest{
		RequestID: "r1", CallerID: "greedy", Text: "one",
	}, &first)
	if !first.OK {
		t.Fatalf("first speak should pass: %+v", first)
	}
	var second protocol.Ack
	request(t, client, protocol.SubjectSpeak, protocol.SpeakRequest{
		RequestID: "r2", CallerID: "greedy", Text: "two",
	}, &second)
	if second.OK || second.ErrorCode != protocol.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", second)
	}

	// A different caller is unaffected.
	var other protocol.Ack
	request(t, client, protocol.SubjectSpeak, protocol.SpeakRequest{
		RequestID: "r3", CallerID: "polite", Text: "three",
	}, &other)
	if !other.OK {
		t.Fatalf("other caller should pass: %+v", other)
	}
}

func TestMalformedRequest(t *testing.T) {
	client := startStack(t, nil)
	msg, err := client.Conn().Request(protocol.SubjectSpeak, []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply protocol.Ack
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.OK || reply.ErrorCode != protocol.ErrCodeMalformedInput {
		t.Fatalf("expected malformed_input, got %+v", reply)
	}
}

func TestListenRoundTripWithCorrection(t *testing.T) {
	client := startStack(t, nil)

	// First listen returns the raw mock transcript.
	var reply protocol.ListenReply
	request(t, client, protocol.SubjectListen, protocol.ListenRequest{
		RequestID: "r1", CallerID: "test",
	}, &reply)
	if reply.ErrorCode != "" {
		t.Fatalf("listen failed: %+v", reply)
	}
	if reply.Transcript != "turn on the kitchen lights" {
		t.Fatalf("unexpected transcript: %q", reply.Transcript)
	}
	if reply.Corrected {
		t.Error("nothing learned yet, transcript should not be corrected")
	}
}

func TestThinkRoundTrip(t *testing.T) {
	client := startStack(t, nil)
	var reply protocol.ThinkReply
	request(t, client, protocol.SubjectThink, protocol.ThinkRequest{
		RequestID: "r1", CallerID: "test", Prompt: "turn on the lights",
	}, &reply)
	if reply.ErrorCode != "" {
		t.Fatalf("think failed: %+v", reply)
	}
	if reply.Text == "" {
		t.Fatal("empty reply text")
	}
	if reply.Model != "mock" {
		t.Errorf("model = %q, want mock", reply.Model)
	}
}

func TestChannelsAndStatus(t *testing.T) {
	client := startStack(t, nil)

	var channels protocol.ChannelsReply
	request(t, client, protocol.SubjectChannels, protocol.StatusRequest{RequestID: "r1"}, &channels)
	if len(channels.Channels) != len(output.AllTargets) {
		t.Fatalf("expected %d channels, got %d", len(output.AllTargets), len(channels.Channels))
	}
	surround := 0
	for _, c := range channels.Channels {
		if c.Surround {
			surround++
		}
	}
	if surround != 4 {
		t.Errorf("expected 4 surround targets, got %d", surround)
	}

	var status protocol.StatusReply
	request(t, client, protocol.SubjectStatus, protocol.StatusRequest{RequestID: "r2"}, &status)
	if !status.Healthy || !status.OutputReady || !status.InputReady {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.CaptureBusy {
		t.Error("capture should be idle")
	}
}

func TestSinksRoundTrip(t *testing.T) {
	client := startStack(t, nil)

	var sinks protocol.SinksReply
	request(t, client, protocol.SubjectSinks, protocol.StatusRequest{RequestID: "r1"}, &sinks)
	if len(sinks.Sinks) == 0 {
		t.Fatal("no sinks listed")
	}

	var def protocol.DefaultSinkReply
	request(t, client, protocol.SubjectDefaultSink, protocol.StatusRequest{RequestID: "r2"}, &def)
	if def.Sink.ID == "" {
		t.Fatalf("no default sink: %+v", def)
	}
}

func TestTimerRoundTrip(t *testing.T) {
	client := startStack(t, nil)

	var set protocol.TimerSetReply
	request(t, client, protocol.SubjectTimerSet, protocol.TimerSetRequest{
		RequestID: "r1", CallerID: "test", DurationMS: 60000, Message: "check the oven",
	}, &set)
	if set.ErrorCode != "" || set.TimerID == "" {
		t.Fatalf("timer set failed: %+v", set)
	}

	var list protocol.TimerListReply
	request(t, client, protocol.SubjectTimerList, protocol.StatusRequest{RequestID: "r2"}, &list)
	if len(list.Timers) != 1 || list.Timers[0].Message != "check the oven" {
		t.Fatalf("unexpected timer list: %+v", list)
	}

	var cancel protocol.TimerCancelReply
	request(t, client, protocol.SubjectTimerCancel, protocol.TimerCancelRequest{
		RequestID: "r3", CallerID: "test", TimerID: set.TimerID,
	}, &cancel)
	if !cancel.Cancelled {
		t.Fatalf("cancel failed: %+v", cancel)
	}

	request(t, client, protocol.SubjectTimerList, protocol.StatusRequest{RequestID: "r4"}, &list)
	if len(list.Timers) != 0 {
		t.Fatalf("cancelled timer still listed: %+v", list)
	}
}

func TestTimerSetRejectsNonPositiveDuration(t *testing.T) {
	client := startStack(t, nil)
	var set protocol.TimerSetReply
	request(t, client, protocol.SubjectTimerSet, protocol.TimerSetRequest{
		RequestID: "r1", CallerID: "test", DurationMS: 0, Message: "now",
	}, &set)
	if set.ErrorCode != protocol.ErrCodeMalformedInput {
		t.Fatalf("expected malformed_input, got %+v", set)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := map[string]string{
		protocol.ErrCodeRateLimited:   errorCode(governorErr()),
		protocol.ErrCodeInvalidTarget: errorCode(targetErr()),
		protocol.ErrCodeInternal:      errorCode(io.ErrUnexpectedEOF),
		"":                            errorCode(nil),
	}
	for want, got := range cases {
		if got != want {
			t.Errorf("errorCode mismatch: got %q, want %q", got, want)
		}
	}
}

func governorErr() error {
	gov := governor.New(config.GovernorConfig{
		WindowMS: 1000, SpeakLimit: 0, ListenLimit: 1, PlaybackLimit: 1, ReasonLimit: 1,
		StaleAfterWindows: 1, SweepIntervalMS: 1000, GlobalBudgetMB: 1, PerRequestMB: 1,
	}, testLogger())
	return gov.Admit("x", governor.OpSpeak)
}

func targetErr() error {
	_, err := output.ParseTarget("nowhere")
	return err
}

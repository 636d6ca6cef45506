// Package dispatch is the daemon's request/reply surface on the bus. Every
// handler runs the same gauntlet: decode, admit through the governor, do the
// work, reply with a result or a machine-readable error code. Admission
// happens before any work so a rejected caller costs nothing.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openvoiced/voiced/internal/bus"
	"github.com/openvoiced/voiced/internal/corrections"
	"github.com/openvoiced/voiced/internal/fault"
	"github.com/openvoiced/voiced/internal/governor"
	"github.com/openvoiced/voiced/internal/input"
	"github.com/openvoiced/voiced/internal/output"
	"github.com/openvoiced/voiced/internal/proactive"
	"github.com/openvoiced/voiced/internal/protocol"
	"github.com/openvoiced/voiced/internal/reason"
)

// Service routes bus requests to the actors.
type Service struct {
	bus  *bus.Client
	gov  *governor.Governor
	out  *output.Service
	in   *input.Service
	rsn  *reason.Service
	corr *corrections.Store
	pro  *proactive.Service

	log     *slog.Logger
	tracer  trace.Tracer
	started time.Time
	subs    []*nats.Subscription
}

func NewService(b *bus.Client, gov *governor.Governor, out *output.Service, in *input.Service, rsn *reason.Service, corr *corrections.Store, pro *proactive.Service, log *slog.Logger) *Service {
	return &Service{
		bus:    b,
		gov:    gov,
		out:    out,
		in:     in,
		rsn:    rsn,
		corr:   corr,
		pro:    pro,
		log:    log,
		tracer: otel.Tracer("voiced/dispatch"),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.started = time.Now()
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectSpeak:       s.wrap(protocol.SubjectSpeak, s.handleSpeak),
		protocol.SubjectSpeakDevice: s.wrap(protocol.SubjectSpeakDevice, s.handleSpeakDevice),
		protocol.SubjectPlay:        s.wrap(protocol.SubjectPlay, s.handlePlay),
		protocol.SubjectStop:        s.wrap(protocol.SubjectStop, s.handleStop),
		protocol.SubjectVolume:      s.wrap(protocol.SubjectVolume, s.handleVolume),
		protocol.SubjectChannels:    s.wrap(protocol.SubjectChannels, s.handleChannels),
		protocol.SubjectSinks:       s.wrap(protocol.SubjectSinks, s.handleSinks),
		protocol.SubjectDefaultSink: s.wrap(protocol.SubjectDefaultSink, s.handleDefaultSink),
		protocol.SubjectVoices:      s.wrap(protocol.SubjectVoices, s.handleVoices),
		protocol.SubjectListen:      s.wrap(protocol.SubjectListen, s.handleListen),
		protocol.SubjectThink:       s.wrap(protocol.SubjectThink, s.handleThink),
		protocol.SubjectStatus:      s.wrap(protocol.SubjectStatus, s.handleStatus),
	}
	if s.pro != nil {
		handlers[protocol.SubjectTimerSet] = s.wrap(protocol.SubjectTimerSet, s.handleTimerSet)
		handlers[protocol.SubjectTimerCancel] = s.wrap(protocol.SubjectTimerCancel, s.handleTimerCancel)
		handlers[protocol.SubjectTimerList] = s.wrap(protocol.SubjectTimerList, s.handleTimerList)
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.log.Info("dispatch started", slog.Int("subjects", len(s.subs)))
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}

type handlerFunc func(ctx context.Context, msg *nats.Msg) (any, string)

// wrap gives every handler tracing, timing and a uniform reply path. The
// second return of a handler is the error code for metrics; empty means ok.
func (s *Service) wrap(subject string, h handlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		go func() {
			ctx, span := s.tracer.Start(context.Background(), subject,
				trace.WithAttributes(attribute.String("bus.subject", subject)))
			defer span.End()
			start := time.Now()

			reply, code := h(ctx, msg)
			requestDuration.WithLabelValues(subject).Observe(time.Since(start).Seconds())
			outcome := "ok"
			if code != "" {
				outcome = code
				rejectionsTotal.WithLabelValues(code).Inc()
			}
			requestsTotal.WithLabelValues(subject, outcome).Inc()

			if msg.Reply == "" {
				return
			}
			data, err := json.Marshal(reply)
			if err != nil {
				s.log.Error("failed to marshal reply",
					slog.String("subject", subject),
					slog.String("error", err.Error()))
				return
			}
			if err := msg.Respond(data); err != nil {
				s.log.Warn("failed to respond",
					slog.String("subject", subject),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// errorCode maps fault sentinels onto wire codes.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fault.ErrRateLimited):
		return protocol.ErrCodeRateLimited
	case errors.Is(err, fault.ErrResourceExhausted):
		return protocol.ErrCodeResourceExhausted
	case errors.Is(err, fault.ErrInvalidTarget):
		return protocol.ErrCodeInvalidTarget
	case errors.Is(err, fault.ErrNoSpeechDetected):
		return protocol.ErrCodeNoSpeech
	case errors.Is(err, fault.ErrMalformedInput):
		return protocol.ErrCodeMalformedInput
	case errors.Is(err, fault.ErrCaptureBusy):
		return protocol.ErrCodeCaptureBusy
	case errors.Is(err, fault.ErrBackendTimeout):
		return protocol.ErrCodeBackendTimeout
	case errors.Is(err, fault.ErrBackendUnavailable):
		return protocol.ErrCodeBackendUnavailable
	default:
		return protocol.ErrCodeInternal
	}
}

func ack(requestID string, err error) (protocol.Ack, string) {
	code := errorCode(err)
	a := protocol.Ack{RequestID: requestID, OK: err == nil, ErrorCode: code}
	if err != nil {
		a.Error = err.Error()
	}
	return a, code
}

func (s *Service) handleSpeak(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		a, code := ack("", fault.ErrMalformedInput)
		return a, code
	}
	if err := s.gov.Admit(req.CallerID, governor.OpSpeak); err != nil {
		a, code := ack(req.RequestID, err)
		return a, code
	}
	err := s.out.Speak(ctx, req.Text, req.Target, req.Voice, req.Blocking)
	a, code := ack(req.RequestID, err)
	return a, code
}

func (s *Service) handleSpeakDevice(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.SpeakDeviceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		a, code := ack("", fault.ErrMalformedInput)
		return a, code
	}
	if err := s.gov.Admit(req.CallerID, governor.OpSpeak); err != nil {
		a, code := ack(req.RequestID, err)
		return a, code
	}
	err := s.out.SpeakToDevice(ctx, req.Text, req.SinkID, req.Voice)
	a, code := ack(req.RequestID, err)
	return a, code
}

func (s *Service) handlePlay(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.PlayRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		a, code := ack("", fault.ErrMalformedInput)
		return a, code
	}
	if err := s.gov.Admit(req.CallerID, governor.OpPlayback); err != nil {
		a, code := ack(req.RequestID, err)
		return a, code
	}
	err := s.out.PlayAudio(ctx, req.URL, req.Target, req.Blocking)
	a, code := ack(req.RequestID, err)
	return a, code
}

// Stop is control-plane and never rate limited; a caller must always be able
// to silence its own noise.
func (s *Service) handleStop(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StopRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return protocol.StopReply{Error: "malformed request", ErrorCode: protocol.ErrCodeMalformedInput},
			protocol.ErrCodeMalformedInput
	}
	stopped, err := s.out.StopAudio(req.Target)
	code := errorCode(err)
	reply := protocol.StopReply{RequestID: req.RequestID, Stopped: stopped, ErrorCode: code}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply, code
}

func (s *Service) handleVolume(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.VolumeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		a, code := ack("", fault.ErrMalformedInput)
		return a, code
	}
	err := s.out.SetVolume(ctx, req.Level)
	a, code := ack(req.RequestID, err)
	return a, code
}

func (s *Service) handleChannels(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StatusRequest
	_ = json.Unmarshal(msg.Data, &req)
	reply := protocol.ChannelsReply{RequestID: req.RequestID}
	for _, t := range s.out.ListChannels() {
		reply.Channels = append(reply.Channels, protocol.ChannelInfo{
			Name:     string(t),
			Surround: t.IsSurround(),
		})
	}
	return reply, ""
}

func (s *Service) handleSinks(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StatusRequest
	_ = json.Unmarshal(msg.Data, &req)
	sinks, err := s.out.ListSinks(ctx)
	code := errorCode(err)
	reply := protocol.SinksReply{RequestID: req.RequestID, ErrorCode: code}
	if err != nil {
		reply.Error = err.Error()
		return reply, code
	}
	for _, sk := range sinks {
		reply.Sinks = append(reply.Sinks, protocol.SinkInfo{ID: sk.ID, Name: sk.Name, Default: sk.Default})
	}
	return reply, ""
}

func (s *Service) handleDefaultSink(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StatusRequest
	_ = json.Unmarshal(msg.Data, &req)
	sink, err := s.out.GetDefaultSink(ctx)
	code := errorCode(err)
	reply := protocol.DefaultSinkReply{RequestID: req.RequestID, ErrorCode: code}
	if err != nil {
		reply.Error = err.Error()
		return reply, code
	}
	reply.Sink = protocol.SinkInfo{ID: sink.ID, Name: sink.Name, Default: true}
	return reply, ""
}

func (s *Service) handleVoices(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StatusRequest
	_ = json.Unmarshal(msg.Data, &req)
	voices, err := s.out.ListVoices(ctx)
	code := errorCode(err)
	reply := protocol.VoicesReply{RequestID: req.RequestID, Voices: voices, ErrorCode: code}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply, code
}

func (s *Service) handleListen(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.ListenRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return protocol.ListenReply{Error: "malformed request", ErrorCode: protocol.ErrCodeMalformedInput},
			protocol.ErrCodeMalformedInput
	}
	if err := s.gov.Admit(req.CallerID, governor.OpListen); err != nil {
		code := errorCode(err)
		return protocol.ListenReply{RequestID: req.RequestID, Error: err.Error(), ErrorCode: code}, code
	}

	var tr input.Transcript
	var err error
	if req.DurationMS > 0 {
		tr, err = s.in.ListenFor(ctx, req.DurationMS)
	} else {
		tr, err = s.in.Listen(ctx, input.VADParams{
			SpeechThreshold:   req.SpeechThreshold,
			SilenceThreshold:  req.SilenceThreshold,
			SilenceDurationMS: req.SilenceDurationMS,
			MaxDurationMS:     req.MaxDurationMS,
		})
	}
	reply := protocol.ListenReply{
		RequestID:  req.RequestID,
		DurationMS: tr.DurationMS,
		TimedOut:   tr.TimedOut,
	}
	if err != nil {
		code := errorCode(err)
		reply.Error = err.Error()
		reply.ErrorCode = code
		return reply, code
	}

	reply.Transcript = tr.Text
	if s.corr != nil {
		if fixed, ok := s.corr.Correct(tr.Text); ok {
			reply.Transcript = fixed
			reply.Corrected = true
		}
	}
	return reply, ""
}

func (s *Service) handleThink(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.ThinkRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return protocol.ThinkReply{Error: "malformed request", ErrorCode: protocol.ErrCodeMalformedInput},
			protocol.ErrCodeMalformedInput
	}
	if err := s.gov.Admit(req.CallerID, governor.OpReason); err != nil {
		code := errorCode(err)
		return protocol.ThinkReply{RequestID: req.RequestID, Error: err.Error(), ErrorCode: code}, code
	}

	text, err := s.rsn.Think(ctx, req.Prompt, req.Target, req.Speak)
	reply := protocol.ThinkReply{RequestID: req.RequestID, Text: text, Model: s.rsn.Model()}
	code := errorCode(err)
	if err != nil {
		reply.Error = err.Error()
		reply.ErrorCode = code
	}
	return reply, code
}

// Timer operations are control-plane like stop and volume; the announcement
// gap in the proactive manager already bounds how often timers can speak.
func (s *Service) handleTimerSet(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.TimerSetRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return protocol.TimerSetReply{Error: "malformed request", ErrorCode: protocol.ErrCodeMalformedInput},
			protocol.ErrCodeMalformedInput
	}
	timer, err := s.pro.SetTimer(time.Duration(req.DurationMS)*time.Millisecond, req.Message)
	code := errorCode(err)
	reply := protocol.TimerSetReply{RequestID: req.RequestID, ErrorCode: code}
	if err != nil {
		reply.Error = err.Error()
		return reply, code
	}
	reply.TimerID = timer.ID
	reply.FiresAt = timer.FiresAt
	return reply, ""
}

func (s *Service) handleTimerCancel(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.TimerCancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return protocol.TimerCancelReply{Error: "malformed request", ErrorCode: protocol.ErrCodeMalformedInput},
			protocol.ErrCodeMalformedInput
	}
	return protocol.TimerCancelReply{
		RequestID: req.RequestID,
		Cancelled: s.pro.CancelTimer(req.TimerID),
	}, ""
}

func (s *Service) handleTimerList(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StatusRequest
	_ = json.Unmarshal(msg.Data, &req)
	reply := protocol.TimerListReply{RequestID: req.RequestID}
	for _, t := range s.pro.ListTimers() {
		reply.Timers = append(reply.Timers, protocol.TimerInfo{
			ID:      t.ID,
			Message: t.Message,
			FiresAt: t.FiresAt,
		})
	}
	return reply, ""
}

func (s *Service) handleStatus(ctx context.Context, msg *nats.Msg) (any, string) {
	var req protocol.StatusRequest
	_ = json.Unmarshal(msg.Data, &req)

	outputReady := s.out != nil && s.out.Healthy()
	inputReady := s.in != nil && s.in.Healthy()
	reasoningReady := s.rsn != nil && s.rsn.Healthy(ctx)

	return protocol.StatusReply{
		RequestID:       req.RequestID,
		Healthy:         s.bus.Healthy() && outputReady && inputReady,
		OutputReady:     outputReady,
		InputReady:      inputReady,
		ReasoningReady:  reasoningReady,
		CaptureBusy:     s.in != nil && s.in.Busy(),
		AudioBudgetUsed: s.gov.AudioBytesInUse(),
		Uptime:          time.Since(s.started).Round(time.Second).String(),
		Timestamp:       time.Now().UTC(),
	}, ""
}

// voicectl is a small bus client for poking a running voiced daemon from
// the shell.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/openvoiced/voiced/internal/protocol"
)

const usage = `usage: voicectl [flags] <command> [args]

commands:
  speak <text>          synthesize and play text
  speak-device <sink-id> <text>
  play <url>            download and play remote audio
  stop                  stop playback (use -target for one channel)
  volume <0.0-1.0>      set default sink volume
  listen                capture and transcribe one utterance
  think <prompt>        run a reasoning turn (add -say to speak the reply)
  timer <duration> <message>
                        schedule a spoken reminder (duration like 90s or 5m)
  timer-cancel <id>     cancel a pending timer
  timers                list pending timers
  status                daemon status
  channels | sinks | voices

flags:
`

func main() {
	server := flag.String("server", "nats://127.0.0.1:4222", "bus server URL")
	caller := flag.String("caller", "voicectl", "caller identity for rate limiting")
	target := flag.String("target", "", "channel target (left, right, center, stereo, ...)")
	voice := flag.String("voice", "", "synthesis voice")
	say := flag.Bool("say", false, "speak reasoning replies as they stream")
	duration := flag.Int("duration", 0, "fixed listen duration in ms (0 = endpoint detection)")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	nc, err := nats.Connect(*server, nats.Name("voicectl"))
	if err != nil {
		fatal("connect to %s: %v", *server, err)
	}
	defer nc.Close()

	id := uuid.NewString()
	var subject string
	var req any

	switch args[0] {
	case "speak":
		if len(args) < 2 {
			fatal("speak needs text")
		}
		subject = protocol.SubjectSpeak
		req = protocol.SpeakRequest{
			RequestID: id, CallerID: *caller,
			Text: strings.Join(args[1:], " "), Target: *target, Voice: *voice, Blocking: true,
		}
	case "speak-device":
		if len(args) < 3 {
			fatal("speak-device needs a sink id and text")
		}
		subject = protocol.SubjectSpeakDevice
		req = protocol.SpeakDeviceRequest{
			RequestID: id, CallerID: *caller,
			SinkID: args[1], Text: strings.Join(args[2:], " "), Voice: *voice,
		}
	case "play":
		if len(args) != 2 {
			fatal("play needs a url")
		}
		subject = protocol.SubjectPlay
		req = protocol.PlayRequest{
			RequestID: id, CallerID: *caller, URL: args[1], Target: *target, Blocking: true,
		}
	case "stop":
		subject = protocol.SubjectStop
		req = protocol.StopRequest{RequestID: id, CallerID: *caller, Target: *target}
	case "volume":
		if len(args) != 2 {
			fatal("volume needs a level")
		}
		level, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fatal("bad volume %q", args[1])
		}
		subject = protocol.SubjectVolume
		req = protocol.VolumeRequest{RequestID: id, CallerID: *caller, Level: level}
	case "listen":
		subject = protocol.SubjectListen
		req = protocol.ListenRequest{RequestID: id, CallerID: *caller, DurationMS: *duration}
	case "think":
		if len(args) < 2 {
			fatal("think needs a prompt")
		}
		subject = protocol.SubjectThink
		req = protocol.ThinkRequest{
			RequestID: id, CallerID: *caller,
			Prompt: strings.Join(args[1:], " "), Speak: *say, Target: *target,
		}
	case "timer":
		if len(args) < 3 {
			fatal("timer needs a duration and a message")
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			fatal("bad duration %q", args[1])
		}
		subject = protocol.SubjectTimerSet
		req = protocol.TimerSetRequest{
			RequestID: id, CallerID: *caller,
			DurationMS: int(d.Milliseconds()), Message: strings.Join(args[2:], " "),
		}
	case "timer-cancel":
		if len(args) != 2 {
			fatal("timer-cancel needs a timer id")
		}
		subject = protocol.SubjectTimerCancel
		req = protocol.TimerCancelRequest{RequestID: id, CallerID: *caller, TimerID: args[1]}
	case "timers":
		subject = protocol.SubjectTimerList
		req = protocol.StatusRequest{RequestID: id, CallerID: *caller}
	case "status":
		subject = protocol.SubjectStatus
		req = protocol.StatusRequest{RequestID: id, CallerID: *caller}
	case "channels":
		subject = protocol.SubjectChannels
		req = protocol.StatusRequest{RequestID: id, CallerID: *caller}
	case "sinks":
		subject = protocol.SubjectSinks
		req = protocol.StatusRequest{RequestID: id, CallerID: *caller}
	case "voices":
		subject = protocol.SubjectVoices
		req = protocol.StatusRequest{RequestID: id, CallerID: *caller}
	default:
		fatal("unknown command %q", args[0])
	}

	data, err := json.Marshal(req)
	if err != nil {
		fatal("marshal request: %v", err)
	}
	msg, err := nc.Request(subject, data, *timeout)
	if err != nil {
		fatal("request %s: %v", subject, err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(msg.Data, &pretty); err != nil {
		fmt.Println(string(msg.Data))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))

	if code, ok := pretty["error_code"].(string); ok && code != "" {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "voicectl: "+format+"\n", args...)
	os.Exit(1)
}

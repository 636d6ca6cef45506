// Package envctx gathers a short description of ambient machine state (time
// of day, user-supplied probe output) for the reasoning preamble. The probe
// runs under a tight deadline so a wedged script can never stall a thought.
package envctx

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/openvoiced/voiced/internal/config"
	"github.com/openvoiced/voiced/internal/fault"
)

const maxDescriptionLen = 500

// Provider produces the environment line for prompt assembly.
type Provider struct {
	args    []string
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func New(cfg config.ContextConfig, log *slog.Logger) (*Provider, error) {
	p := &Provider{
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		log:     log,
		now:     time.Now,
	}
	if cfg.Command != "" {
		args, err := shellwords.Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse context command: %w", err)
		}
		p.args = args
	}
	return p, nil
}

// Describe returns the current time plus the probe's first lines of output,
// truncated to a prompt-safe length.
func (p *Provider) Describe(ctx context.Context) (string, error) {
	parts := []string{"local time is " + p.now().Format("Monday 15:04")}

	if len(p.args) > 0 {
		probe, err := p.runProbe(ctx)
		if err != nil {
			p.log.Warn("environment probe failed", slog.String("error", err.Error()))
		} else if probe != "" {
			parts = append(parts, probe)
		}
	}

	desc := strings.Join(parts, "; ")
	if len(desc) > maxDescriptionLen {
		desc = desc[:maxDescriptionLen]
	}
	return desc, nil
}

func (p *Provider) runProbe(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w: probe exceeded %s", fault.ErrBackendTimeout, p.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", fault.ErrBackendUnavailable, err)
	}
	return strings.TrimSpace(strings.ReplaceAll(stdout.String(), "\n", "; ")), nil
}

package suite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// EnvironmentVariable carries the target environment name into commands.
const EnvironmentVariable = "REGRESSOOR_ENVIRONMENT"

// maxStderrBytes bounds the stderr tail kept in a failed outcome.
const maxStderrBytes = 2048

// CommandOptions configure a command suite.
type CommandOptions struct {
	Command []string          `mapstructure:"command"`
	Dir     string            `mapstructure:"dir"`
	Env     map[string]string `mapstructure:"env"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// NewCommandFunc builds a test function that runs a local command per
// execution. Success means a zero exit status.
func NewCommandFunc(options map[string]any) (Func, error) {
	var opts CommandOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, fmt.Errorf("command is required")
	}

	return func(ctx context.Context, environment string, execOpts Options) (*Outcome, error) {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...) //nolint:gosec // configured by operator
		cmd.Dir = opts.Dir
		cmd.Env = append(os.Environ(), EnvironmentVariable+"="+environment)

		for k, v := range execOpts.Variables {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		var stderr bytes.Buffer

		cmd.Stderr = &stderr

		start := time.Now()
		err := cmd.Run()
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		outcome := &Outcome{
			Success:    err == nil,
			DurationMs: elapsed,
			Data:       map[string]any{"exit_code": cmd.ProcessState.ExitCode()},
		}

		if err != nil {
			msg := strings.TrimSpace(tail(stderr.String(), maxStderrBytes))
			if msg == "" {
				msg = err.Error()
			}

			outcome.Error = msg
		}

		return outcome, nil
	}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[len(s)-n:]
}

package suite

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// HTTPOptions configure an http suite.
type HTTPOptions struct {
	Method string `mapstructure:"method"`
	// Path is appended to the environment base URL. URL, when set, is used
	// as is instead.
	Path           string            `mapstructure:"path"`
	URL            string            `mapstructure:"url"`
	Headers        map[string]string `mapstructure:"headers"`
	Body           string            `mapstructure:"body"`
	ExpectedStatus int               `mapstructure:"expected_status"`
	Timeout        time.Duration     `mapstructure:"timeout"`
}

// NewHTTPFunc builds a test function issuing one request per execution.
// baseURLs maps environment names to base URLs.
func NewHTTPFunc(options map[string]any, baseURLs map[string]string, client *http.Client) (Func, error) {
	var opts HTTPOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	if opts.ExpectedStatus == 0 {
		opts.ExpectedStatus = http.StatusOK
	}

	if opts.URL == "" && opts.Path == "" {
		return nil, fmt.Errorf("either url or path is required")
	}

	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, environment string, _ Options) (*Outcome, error) {
		target := opts.URL
		if target == "" {
			base, ok := baseURLs[environment]
			if !ok || base == "" {
				return nil, fmt.Errorf("environment %q has no base_url", environment)
			}

			target = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(opts.Path, "/")
		}

		if opts.Timeout > 0 {
			var cancel context.CancelFunc

			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		var body io.Reader
		if opts.Body != "" {
			body = strings.NewReader(opts.Body)
		}

		var firstByte time.Time

		trace := &httptrace.ClientTrace{
			GotFirstResponseByte: func() { firstByte = time.Now() },
		}

		req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), opts.Method, target, body)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		start := time.Now()

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}
		defer resp.Body.Close()

		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		outcome := &Outcome{
			Success:    resp.StatusCode == opts.ExpectedStatus,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000,
			Data: map[string]any{
				"status_code": resp.StatusCode,
				"bytes":       n,
			},
		}

		if !firstByte.IsZero() {
			outcome.Data["ttfb_ms"] = float64(firstByte.Sub(start).Microseconds()) / 1000
		}

		if !outcome.Success {
			outcome.Error = fmt.Sprintf("unexpected status %d, want %d", resp.StatusCode, opts.ExpectedStatus)
		}

		return outcome, nil
	}, nil
}

func decodeOptions(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("creating options decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}

	return nil
}

package suite

import (
	"fmt"
	"net/http"

	"github.com/ethpandaops/regressoor/pkg/config"
)

// RegisterConfigured builds a suite for every entry in cfg.Suites and
// registers it in reg.
func RegisterConfigured(reg Registry, cfg *config.Config, client *http.Client) error {
	baseURLs := make(map[string]string, len(cfg.Environments))
	for _, env := range cfg.Environments {
		baseURLs[env.Name] = env.BaseURL
	}

	for _, sc := range cfg.Suites {
		s, err := fromConfig(sc, baseURLs, client)
		if err != nil {
			return fmt.Errorf("%w: suite %q: %w", ErrValidation, sc.Name, err)
		}

		if err := reg.Register(s); err != nil {
			return err
		}
	}

	return nil
}

func fromConfig(sc config.SuiteConfig, baseURLs map[string]string, client *http.Client) (*Suite, error) {
	var (
		fn  Func
		err error
	)

	switch sc.Kind {
	case config.SuiteKindHTTP:
		fn, err = NewHTTPFunc(sc.Options, baseURLs, client)
	case config.SuiteKindCommand:
		fn, err = NewCommandFunc(sc.Options)
	default:
		err = fmt.Errorf("unknown kind %q", sc.Kind)
	}

	if err != nil {
		return nil, err
	}

	return &Suite{
		Name:         sc.Name,
		Func:         fn,
		Environments: sc.Environments,
		Metadata: Metadata{
			Category: sc.Category,
			Priority: sc.Priority,
			Tags:     sc.Tags,
			Extra:    map[string]any{"kind": sc.Kind},
		},
		Thresholds: sc.Thresholds,
	}, nil
}

package runtime

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/polyrun/polyrun/pkg/config"
	"github.com/polyrun/polyrun/pkg/errs"
)

// Discoverer resolves a language title to a runtime kind by inspecting
// the cluster. Implemented by the discovery package.
type Discoverer interface {
	KindForLanguage(ctx context.Context, languageTitle string) (string, error)
}

// Selector maps language titles to runtime kinds using the configured
// strategy.
type Selector struct {
	strategy   config.SelectionStrategy
	mappings   []Mapping
	discoverer Discoverer
	logger     *slog.Logger
}

func NewSelector(strategy config.SelectionStrategy, mappings []Mapping, discoverer Discoverer, logger *slog.Logger) *Selector {
	return &Selector{
		strategy:   strategy,
		mappings:   mappings,
		discoverer: discoverer,
		logger:     logger,
	}
}

// Select resolves the runtime kind for a language title.
func (s *Selector) Select(ctx context.Context, languageTitle string) (Kind, error) {
	switch s.strategy {
	case config.StrategyConfig:
		return s.selectByConfig(languageTitle)
	case config.StrategyDiscovery:
		return s.selectByDiscovery(ctx, languageTitle)
	default:
		return KindFromLanguageTitle(languageTitle)
	}
}

func (s *Selector) selectByConfig(languageTitle string) (Kind, error) {
	if len(s.mappings) == 0 {
		s.logger.Warn("no runtime mappings configured, falling back to prefix matching")
		return KindFromLanguageTitle(languageTitle)
	}

	for _, m := range s.mappings {
		if m.IsRegex {
			re, err := regexp.Compile("^(?:" + m.Pattern + ")$")
			if err != nil {
				s.logger.Warn("skipping invalid runtime mapping pattern", "pattern", m.Pattern, "error", err)
				continue
			}
			if re.MatchString(languageTitle) {
				return m.Runtime, nil
			}
		} else if strings.Contains(languageTitle, m.Pattern) {
			return m.Runtime, nil
		}
	}

	return "", errs.New(errs.KindBadRequest, "No configuration mapping found for language title: %s", languageTitle)
}

func (s *Selector) selectByDiscovery(ctx context.Context, languageTitle string) (Kind, error) {
	if s.discoverer != nil {
		kind, err := s.discoverer.KindForLanguage(ctx, languageTitle)
		if err == nil {
			return Kind(kind), nil
		}
		s.logger.Warn("discovery lookup failed, falling back to prefix matching",
			"language_title", languageTitle, "error", err)
	} else {
		s.logger.Warn("discovery strategy selected but no discoverer configured, falling back to prefix matching")
	}

	return KindFromLanguageTitle(languageTitle)
}

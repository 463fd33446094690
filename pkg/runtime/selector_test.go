package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyrun/polyrun/pkg/config"
	"github.com/polyrun/polyrun/pkg/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKindFromLanguageTitle(t *testing.T) {
	tests := []struct {
		title   string
		want    Kind
		wantErr bool
	}{
		{"nodejs-calculator", KindNodeJS, false},
		{"python-calculator", KindPython, false},
		{"rust-factorial", KindRust, false},
		{"ruby-calculator", "", true},
		{"nodejs", "", true}, // prefix requires the trailing dash
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, err := KindFromLanguageTitle(tt.title)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsKind(err, errs.KindBadRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestURLFor(t *testing.T) {
	cfg := config.RuntimeConfig{
		NodeJSRuntimeURL: "http://nodejs:8080",
		PythonRuntimeURL: "http://python:8080",
		RustRuntimeURL:   "http://rust:8080",
	}

	assert.Equal(t, "http://nodejs:8080", KindNodeJS.URLFor(cfg))
	assert.Equal(t, "http://python:8080", KindPython.URLFor(cfg))
	assert.Equal(t, "http://rust:8080", KindRust.URLFor(cfg))
}

func TestSelect_Prefix(t *testing.T) {
	s := NewSelector(config.StrategyPrefix, nil, nil, discardLogger())

	kind, err := s.Select(context.Background(), "python-calculator")
	require.NoError(t, err)
	assert.Equal(t, KindPython, kind)

	_, err = s.Select(context.Background(), "cobol-payroll")
	assert.Error(t, err)
}

func TestSelect_ConfigSubstring(t *testing.T) {
	mappings := []Mapping{
		{Pattern: "js", Runtime: KindNodeJS},
		{Pattern: "py", Runtime: KindPython},
	}
	s := NewSelector(config.StrategyConfig, mappings, nil, discardLogger())

	kind, err := s.Select(context.Background(), "my-js-function")
	require.NoError(t, err)
	assert.Equal(t, KindNodeJS, kind)

	kind, err = s.Select(context.Background(), "numpy-analyzer")
	require.NoError(t, err)
	assert.Equal(t, KindPython, kind)
}

func TestSelect_ConfigFirstMatchWins(t *testing.T) {
	mappings := []Mapping{
		{Pattern: "calc", Runtime: KindRust},
		{Pattern: "nodejs", Runtime: KindNodeJS},
	}
	s := NewSelector(config.StrategyConfig, mappings, nil, discardLogger())

	kind, err := s.Select(context.Background(), "nodejs-calc")
	require.NoError(t, err)
	assert.Equal(t, KindRust, kind)
}

func TestSelect_ConfigRegex(t *testing.T) {
	mappings := []Mapping{
		{Pattern: `rust-.*`, Runtime: KindRust, IsRegex: true},
	}
	s := NewSelector(config.StrategyConfig, mappings, nil, discardLogger())

	kind, err := s.Select(context.Background(), "rust-factorial")
	require.NoError(t, err)
	assert.Equal(t, KindRust, kind)

	// Regex is a full-string match, not a search.
	_, err = s.Select(context.Background(), "my-rust-factorial")
	assert.Error(t, err)
}

func TestSelect_ConfigInvalidRegexSkipped(t *testing.T) {
	mappings := []Mapping{
		{Pattern: `([`, Runtime: KindRust, IsRegex: true},
		{Pattern: "nodejs", Runtime: KindNodeJS},
	}
	s := NewSelector(config.StrategyConfig, mappings, nil, discardLogger())

	kind, err := s.Select(context.Background(), "nodejs-calculator")
	require.NoError(t, err)
	assert.Equal(t, KindNodeJS, kind)
}

func TestSelect_ConfigNoMatch(t *testing.T) {
	mappings := []Mapping{{Pattern: "nodejs", Runtime: KindNodeJS}}
	s := NewSelector(config.StrategyConfig, mappings, nil, discardLogger())

	_, err := s.Select(context.Background(), "haskell-parser")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindBadRequest))
}

func TestSelect_ConfigEmptyFallsBackToPrefix(t *testing.T) {
	s := NewSelector(config.StrategyConfig, nil, nil, discardLogger())

	kind, err := s.Select(context.Background(), "rust-factorial")
	require.NoError(t, err)
	assert.Equal(t, KindRust, kind)
}

type stubDiscoverer struct {
	kind string
	err  error
}

func (d stubDiscoverer) KindForLanguage(context.Context, string) (string, error) {
	return d.kind, d.err
}

func TestSelect_Discovery(t *testing.T) {
	s := NewSelector(config.StrategyDiscovery, nil, stubDiscoverer{kind: "python"}, discardLogger())

	kind, err := s.Select(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, KindPython, kind)
}

func TestSelect_DiscoveryFailureFallsBack(t *testing.T) {
	s := NewSelector(config.StrategyDiscovery, nil, stubDiscoverer{err: errs.New(errs.KindRuntime, "api unreachable")}, discardLogger())

	kind, err := s.Select(context.Background(), "nodejs-calculator")
	require.NoError(t, err)
	assert.Equal(t, KindNodeJS, kind)

	_, err = s.Select(context.Background(), "unknown-language")
	assert.Error(t, err)
}

func TestLoadMappings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.json")

	rules := []Mapping{
		{Pattern: "js", Runtime: KindNodeJS},
		{Pattern: `py.*`, Runtime: KindPython, IsRegex: true},
	}
	data, err := json.Marshal(rules)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := LoadMappings(path)
	require.NoError(t, err)
	assert.Equal(t, rules, got)
}

func TestLoadMappings_EmptyPath(t *testing.T) {
	got, err := LoadMappings("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadMappings_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mappings.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := LoadMappings(path)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfig))
}

// Package runtime maps language titles to worker runtimes and
// orchestrates script execution against them.
package runtime

import (
	"strings"

	"github.com/polyrun/polyrun/pkg/config"
	"github.com/polyrun/polyrun/pkg/errs"
)

// Kind names a worker language family.
type Kind string

const (
	KindNodeJS Kind = "nodejs"
	KindPython Kind = "python"
	KindRust   Kind = "rust"
)

// KindFromLanguageTitle resolves a kind by reserved prefix. Titles must
// start with nodejs-, python-, or rust-.
func KindFromLanguageTitle(languageTitle string) (Kind, error) {
	switch {
	case strings.HasPrefix(languageTitle, "nodejs-"):
		return KindNodeJS, nil
	case strings.HasPrefix(languageTitle, "python-"):
		return KindPython, nil
	case strings.HasPrefix(languageTitle, "rust-"):
		return KindRust, nil
	default:
		return "", errs.New(errs.KindBadRequest, "Unsupported language title: %s", languageTitle)
	}
}

// URLFor returns the configured worker base URL for the kind.
func (k Kind) URLFor(cfg config.RuntimeConfig) string {
	switch k {
	case KindNodeJS:
		return cfg.NodeJSRuntimeURL
	case KindPython:
		return cfg.PythonRuntimeURL
	case KindRust:
		return cfg.RustRuntimeURL
	default:
		return ""
	}
}

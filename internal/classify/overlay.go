package classify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Overlay extends the static keyword tables from a user-provided TOML
// file. The overlay can only widen the tables; nothing can be removed,
// and builtins are fixed.
type Overlay struct {
	// Simple verbs added to the fast-path allow-list.
	Simple []string `toml:"simple"`

	// Interactive verbs added to the PTY passthrough list.
	Interactive []string `toml:"interactive"`
}

// LoadOverlay reads an overlay file. A missing file is not an error; it
// returns an empty overlay so startup stays quiet when the user has no
// customizations.
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Overlay{}, nil
		}

		return nil, fmt.Errorf("read allowlist overlay: %w", err)
	}

	var o Overlay
	if err := toml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse allowlist overlay: %w", err)
	}

	return &o, nil
}

// Apply widens the keyword tables. Call once at startup, before the
// first classification; the tables are not safe for concurrent writes.
func (o *Overlay) Apply() {
	for _, verb := range o.Simple {
		if verb != "" {
			simpleVerbs[verb] = struct{}{}
		}
	}

	for _, verb := range o.Interactive {
		if verb != "" {
			interactiveVerbs[verb] = struct{}{}
		}
	}
}

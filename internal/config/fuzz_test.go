package config

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzLoadConfigYAML(f *testing.F) {
	// Seed with valid default config YAML
	f.Add([]byte(DefaultConfigYAML()))

	// Seed with a minimal override
	f.Add([]byte(`topic: events.other
policy:
  malformed:
    action: abort
`))

	// Seed with empty
	f.Add([]byte{})

	// Seed with garbage
	f.Add([]byte(`{{{not yaml at all`))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}

		// Must not panic on any input
		cfg, err := LoadConfig(path)
		if err != nil {
			return
		}
		if cfg.Validate() == nil {
			if err := cfg.Policy.Validate(); err != nil {
				t.Fatalf("valid config carries invalid policy: %v", err)
			}
		}
	})
}

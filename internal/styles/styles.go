package styles

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"styler/internal/generation"

	"gopkg.in/yaml.v3"
)

//go:embed styles.yaml
var embedded []byte

type document struct {
	Styles []entry `yaml:"styles"`
}

type entry struct {
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	Prompt         string `yaml:"prompt"`
	NegativePrompt string `yaml:"negativePrompt"`
	LoadingMessage string `yaml:"loadingMessage"`
}

// Default returns the built-in catalog.
func Default() []generation.StyleSpec {
	catalog, err := Parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("styles: embedded catalog: %v", err))
	}
	return catalog
}

func LoadFile(path string) ([]generation.StyleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("styles: read %s: %w", path, err)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("styles: %s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes a YAML catalog, keeping document order.
func Parse(data []byte) ([]generation.StyleSpec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(doc.Styles) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	seen := make(map[string]bool, len(doc.Styles))
	out := make([]generation.StyleSpec, 0, len(doc.Styles))
	for i, e := range doc.Styles {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			return nil, fmt.Errorf("style #%d has an empty key", i+1)
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate style key %q", key)
		}
		seen[key] = true

		if strings.TrimSpace(e.Prompt) == "" {
			return nil, fmt.Errorf("style %q has an empty prompt", key)
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = key
		}
		loading := strings.TrimSpace(e.LoadingMessage)
		if loading == "" {
			loading = "Generating " + name + "..."
		}

		out = append(out, generation.StyleSpec{
			Key:            key,
			Name:           name,
			Prompt:         strings.TrimSpace(e.Prompt),
			NegativePrompt: strings.TrimSpace(e.NegativePrompt),
			LoadingMessage: loading,
		})
	}
	return out, nil
}

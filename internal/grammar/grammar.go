// Package grammar loads the caller-supplied command grammar from YAML.
package grammar

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"hotmic/internal/command"
)

// Command is one grammar entry as written in the file.
type Command struct {
	Key      string   `yaml:"key"`
	Phrases  []string `yaml:"phrases"`
	Aliases  []string `yaml:"aliases"`
	Response string   `yaml:"response"`
}

// Grammar is the parsed file.
type Grammar struct {
	WakeWord string    `yaml:"wake_word"`
	Commands []Command `yaml:"commands"`
	Rewrites []string  `yaml:"rewrites"`
}

// Load reads and validates a grammar file. A missing file yields an empty
// grammar.
func Load(path string) (Grammar, error) {
	if strings.TrimSpace(path) == "" {
		return Grammar{}, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Grammar{}, nil
		}
		return Grammar{}, fmt.Errorf("failed to read grammar %q: %w", path, err)
	}
	g, err := Parse(contents)
	if err != nil {
		return Grammar{}, fmt.Errorf("failed to parse grammar %q: %w", path, err)
	}
	return g, nil
}

// Parse decodes and validates grammar YAML.
func Parse(contents []byte) (Grammar, error) {
	var g Grammar
	if err := yaml.Unmarshal(contents, &g); err != nil {
		return Grammar{}, err
	}
	seen := make(map[string]struct{}, len(g.Commands))
	for i, cmd := range g.Commands {
		if len(cmd.Patterns()) == 0 {
			return Grammar{}, fmt.Errorf("command %d: at least one phrase or alias is required", i+1)
		}
		key := cmd.resolvedKey()
		if _, dup := seen[key]; dup {
			return Grammar{}, fmt.Errorf("command %d: duplicate key %q", i+1, key)
		}
		seen[key] = struct{}{}
	}
	g.WakeWord = command.Normalize(g.WakeWord)
	return g, nil
}

// Patterns returns phrases followed by aliases, normalized and deduplicated.
func (c Command) Patterns() []string {
	all := lo.Map(append(append([]string(nil), c.Phrases...), c.Aliases...), func(p string, _ int) string {
		return command.Normalize(p)
	})
	return lo.Uniq(lo.Compact(all))
}

func (c Command) resolvedKey() string {
	if key := strings.TrimSpace(c.Key); key != "" {
		return key
	}
	return c.Patterns()[0]
}

// Descriptors converts the grammar into matcher descriptors. actions binds
// keys to callbacks; keys without an action only produce events.
func (g Grammar) Descriptors(actions map[string]command.Action) []command.Descriptor {
	return lo.Map(g.Commands, func(c Command, _ int) command.Descriptor {
		key := c.resolvedKey()
		return command.Descriptor{
			Key:      key,
			Patterns: c.Patterns(),
			Action:   actions[key],
			Response: c.Response,
		}
	})
}

package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// patternFile is the on-disk shape of a lexical pattern override file.
// Weights are fixed once loaded; there is no hot reload.
type patternFile struct {
	Patterns []struct {
		Pattern  string `yaml:"pattern"`
		Severity int    `yaml:"severity"`
		Flag     string `yaml:"flag"`
	} `yaml:"patterns"`
}

// LoadPatterns reads a YAML pattern file and compiles its expressions.
// The file replaces the built-in pattern set entirely.
func LoadPatterns(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pattern file: %w", err)
	}

	if len(pf.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file %s defines no patterns", path)
	}

	patterns := make([]Pattern, 0, len(pf.Patterns))
	for i, p := range pf.Patterns {
		expr, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.Flag, err)
		}
		if p.Severity < 0 || p.Severity > 100 {
			return nil, fmt.Errorf("pattern %d (%s): severity %d outside [0,100]", i, p.Flag, p.Severity)
		}
		patterns = append(patterns, Pattern{Expr: expr, Severity: p.Severity, Flag: p.Flag})
	}

	return patterns, nil
}

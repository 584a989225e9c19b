package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Theme is one entry of the project's theme vocabulary.
type Theme struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Terms returns the name and keywords that count as a textual reference to the theme.
func (t Theme) Terms() []string {
	terms := make([]string, 0, len(t.Keywords)+1)
	if name := strings.TrimSpace(t.Name); name != "" {
		terms = append(terms, name)
	}
	for _, keyword := range t.Keywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			terms = append(terms, trimmed)
		}
	}
	return terms
}

// ProjectContext describes the team's own work; replies relate shared links to it.
type ProjectContext struct {
	Project     string  `yaml:"project" json:"project,omitempty"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Themes      []Theme `yaml:"themes" json:"themes,omitempty"`
}

// LoadProjectContext reads the YAML project context file. An empty path
// yields an empty context.
func LoadProjectContext(path string) (ProjectContext, error) {
	var projectContext ProjectContext
	if strings.TrimSpace(path) == "" {
		return projectContext, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return projectContext, fmt.Errorf("read project context %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &projectContext); err != nil {
		return projectContext, fmt.Errorf("parse project context %s: %w", path, err)
	}

	themes := projectContext.Themes[:0]
	for _, theme := range projectContext.Themes {
		theme.Name = strings.TrimSpace(theme.Name)
		if theme.Name == "" {
			continue
		}
		themes = append(themes, theme)
	}
	projectContext.Themes = themes
	return projectContext, nil
}

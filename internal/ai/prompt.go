package ai

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

const analyzePromptFile = "analyze.tmpl"

//go:embed prompts/analyze.tmpl
var defaultAnalyzePrompt string

// promptSet loads templates from an optional directory, falling back to the
// built-in prompt when the directory has no override.
type promptSet struct {
	dir string

	mu        sync.RWMutex
	templates map[string]*template.Template
}

func newPromptSet(dir string) *promptSet {
	return &promptSet{
		dir:       strings.TrimSpace(dir),
		templates: make(map[string]*template.Template),
	}
}

func (p *promptSet) render(fileName string, data any) (string, error) {
	tmpl, err := p.load(fileName)
	if err != nil {
		return "", err
	}

	buffer := bytes.NewBuffer(nil)
	if err := tmpl.Execute(buffer, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", fileName, err)
	}
	return buffer.String(), nil
}

func (p *promptSet) load(fileName string) (*template.Template, error) {
	p.mu.RLock()
	if tmpl, ok := p.templates[fileName]; ok {
		p.mu.RUnlock()
		return tmpl, nil
	}
	p.mu.RUnlock()

	content := defaultAnalyzePrompt
	if p.dir != "" {
		absolute := filepath.Join(p.dir, fileName)
		raw, err := os.ReadFile(absolute)
		switch {
		case err == nil:
			content = string(raw)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read prompt template %s: %w", absolute, err)
		}
	}

	tmpl, err := template.New(fileName).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", fileName, err)
	}

	p.mu.Lock()
	p.templates[fileName] = tmpl
	p.mu.Unlock()

	return tmpl, nil
}

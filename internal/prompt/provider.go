package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TemplateProvider supplies raw template text for a kind
type TemplateProvider interface {
	// Template returns the template text and a description of where it came from
	Template(kind Kind) (text string, source string, err error)
}

// BuiltinProvider serves the templates compiled into the binary
type BuiltinProvider struct{}

// Template returns the compiled-in template for kind
func (BuiltinProvider) Template(kind Kind) (string, string, error) {
	data, err := defaultsFS.ReadFile("defaults/" + string(kind) + ".txt")
	if err != nil {
		return "", "builtin", fmt.Errorf("no builtin %s template: %w", kind, err)
	}
	return string(data), "builtin", nil
}

// ErrNotConfigured means a provider has no source for a template kind.
// Loading falls back to the builtin template without a warning.
var ErrNotConfigured = errors.New("template not configured")

// FileProvider reads externally maintained plain-text templates
type FileProvider struct {
	paths map[Kind]string
}

// NewFileProvider resolves template paths. Explicit paths win over dir;
// within dir templates are named <kind>.txt.
func NewFileProvider(dir, evaluationPath, rewritePath string) *FileProvider {
	paths := make(map[Kind]string)
	for _, kind := range Kinds() {
		if dir != "" {
			paths[kind] = filepath.Join(dir, string(kind)+".txt")
		}
	}
	if evaluationPath != "" {
		paths[KindEvaluation] = evaluationPath
	}
	if rewritePath != "" {
		paths[KindRewrite] = rewritePath
	}
	return &FileProvider{paths: paths}
}

// Template reads the file configured for kind
func (p *FileProvider) Template(kind Kind) (string, string, error) {
	path, ok := p.paths[kind]
	if !ok {
		return "", "", fmt.Errorf("%s: %w", kind, ErrNotConfigured)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", path, fmt.Errorf("read %s template: %w", kind, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", path, fmt.Errorf("%s template %s is empty", kind, path)
	}
	return string(data), path, nil
}

// Load resolves the template for kind from provider with the builtin
// templates as fallback.
func Load(provider TemplateProvider, kind Kind) (Template, []string, error) {
	return LoadWithFallback(provider, BuiltinProvider{}, kind)
}

// LoadWithFallback resolves the template for kind from primary, falling back
// when primary fails or its template lacks required placeholders. Fallbacks
// are reported as warnings, except for kinds primary has no source for. A TemplateError is returned only when the
// fallback template is unusable as well.
func LoadWithFallback(primary, fallback TemplateProvider, kind Kind) (Template, []string, error) {
	var warnings []string

	if primary != nil {
		text, source, err := primary.Template(kind)
		if errors.Is(err, ErrNotConfigured) {
			// unconfigured kinds use the fallback silently
		} else if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s template unavailable, using fallback: %v", kind, err))
		} else if missing := missingPlaceholders(kind, text); len(missing) > 0 {
			warnings = append(warnings, fmt.Sprintf("%s template %s missing placeholders %s, using fallback",
				kind, source, strings.Join(missing, ", ")))
		} else {
			return Template{Kind: kind, Source: source, Text: text}, nil, nil
		}
	}

	text, source, err := fallback.Template(kind)
	if err != nil {
		return Template{}, warnings, &TemplateError{Kind: kind, Err: err}
	}
	if missing := missingPlaceholders(kind, text); len(missing) > 0 {
		return Template{}, warnings, &TemplateError{Kind: kind, Missing: missing}
	}
	return Template{Kind: kind, Source: source, Text: text}, warnings, nil
}

// Set holds one template per kind, loaded once per run
type Set struct {
	Evaluation Template
	Rewrite    Template
	Warnings   []string
}

// LoadSet loads every template kind from provider
func LoadSet(provider TemplateProvider) (*Set, error) {
	set := &Set{}
	for _, kind := range Kinds() {
		tmpl, warnings, err := Load(provider, kind)
		set.Warnings = append(set.Warnings, warnings...)
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindEvaluation:
			set.Evaluation = tmpl
		case KindRewrite:
			set.Rewrite = tmpl
		}
	}
	return set, nil
}

// WriteBuiltin writes the builtin templates into dir for editing
func WriteBuiltin(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create template dir: %w", err)
	}
	var written []string
	for _, kind := range Kinds() {
		text, _, err := BuiltinProvider{}.Template(kind)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, string(kind)+".txt")
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			return written, fmt.Errorf("write %s template: %w", kind, err)
		}
		written = append(written, path)
	}
	return written, nil
}

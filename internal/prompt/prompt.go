// Package prompt holds the system-instruction templates sent to the model.
//
// Templates are embedded under templates/<profile>/<name>.tmpl and addressed by
// their slash-separated path relative to templates/, e.g. "spark/method1.tmpl".
// An override directory with the same layout may replace any of them at startup.
package prompt

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/BTreeMap/AssessPipe/internal/models"
)

//go:embed templates
var embedded embed.FS

const templateRoot = "templates"

// ErrTemplateNotFound is returned when a template name is not in the table.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Data is the value every template is executed against.
type Data struct {
	User            models.UserInfo
	Mode            models.InteractionMode
	Buttons         bool
	UserProfileJSON string
	Model           string
}

// NewData builds template data for a user and interaction mode. An unset mode
// is treated as buttons.
func NewData(user models.UserInfo, mode models.InteractionMode) Data {
	mode = mode.OrDefault()
	return Data{
		User:            user,
		Mode:            mode,
		Buttons:         mode == models.InteractionModeButtons,
		UserProfileJSON: "{}",
	}
}

// WithUserProfile returns a copy of d carrying the caller's free-form profile as JSON.
func (d Data) WithUserProfile(profile map[string]interface{}) Data {
	if len(profile) == 0 {
		d.UserProfileJSON = "{}"
		return d
	}
	b, err := json.Marshal(profile)
	if err != nil {
		slog.Warn("Data.WithUserProfile: profile not serializable, using empty object", "error", err)
		d.UserProfileJSON = "{}"
		return d
	}
	d.UserProfileJSON = string(b)
	return d
}

// WithModel returns a copy of d naming the resolved model.
func (d Data) WithModel(model string) Data {
	d.Model = model
	return d
}

// Opts holds configuration for the prompt table.
type Opts struct {
	OverrideDir string
}

// Option defines a configuration option for the prompt table.
type Option func(*Opts)

// WithOverrideDir replaces embedded templates with files found under dir.
func WithOverrideDir(dir string) Option {
	return func(o *Opts) { o.OverrideDir = dir }
}

// Table is an immutable set of parsed templates, safe for concurrent use.
type Table struct {
	root *template.Template
}

// New parses the embedded templates and applies any overrides.
func New(opts ...Option) (*Table, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	root := template.New("")
	sub, err := fs.Sub(embedded, templateRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded templates: %w", err)
	}
	if err := parseTree(root, sub); err != nil {
		return nil, err
	}

	if cfg.OverrideDir != "" {
		slog.Debug("Loading prompt overrides", "dir", cfg.OverrideDir)
		if err := parseTree(root, os.DirFS(cfg.OverrideDir)); err != nil {
			return nil, fmt.Errorf("failed to load prompt overrides from %s: %w", cfg.OverrideDir, err)
		}
	}
	return &Table{root: root}, nil
}

func parseTree(root *template.Template, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".tmpl" {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err := root.New(p).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", p, err)
		}
		slog.Debug("Prompt template loaded", "name", p)
		return nil
	})
}

// Has reports whether a template with the given name exists.
func (t *Table) Has(name string) bool {
	return name != "" && t.root.Lookup(name) != nil
}

// Names lists all loaded template names in lexical order.
func (t *Table) Names() []string {
	var names []string
	for _, tmpl := range t.root.Templates() {
		if tmpl.Name() != "" && tmpl.Tree != nil {
			names = append(names, tmpl.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Render executes the named template.
func (t *Table) Render(name string, data Data) (string, error) {
	tmpl := t.root.Lookup(name)
	if tmpl == nil || name == "" {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return sb.String(), nil
}

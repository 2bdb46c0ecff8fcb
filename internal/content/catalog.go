// Package content provides the portal's translated strings, section texts and
// privacy page. Each language lives in one YAML file; section bodies are
// markdown rendered to HTML when the catalog is loaded.
package content

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"

	"github.com/quantumportal/quantumportal/internal/quantum"
)

//go:embed defaults/*.yaml
var defaultFS embed.FS

// SectionIDs lists the page sections in page order. The hero section is
// rendered from strings; the rest come from each bundle's section list.
var SectionIDs = []string{
	"hero",
	"observation",
	"superposition",
	"entanglement",
	"uncertainty",
	"tunneling",
	"schrodinger",
	"quantum-computing",
	"quantum-applications",
}

// SEO holds the strings rendered into the page head.
type SEO struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Locale      string `yaml:"locale"` // Open Graph locale, e.g. pl_PL
}

// Section is one content section of the portal.
type Section struct {
	ID       string        `yaml:"id"`
	Title    string        `yaml:"title"`
	Subtitle string        `yaml:"subtitle"`
	Body     string        `yaml:"body"`
	HTML     template.HTML `yaml:"-"`
}

// Page is a standalone text page such as the privacy policy.
type Page struct {
	Title    string        `yaml:"title"`
	Subtitle string        `yaml:"subtitle"`
	Body     string        `yaml:"body"`
	HTML     template.HTML `yaml:"-"`
}

// Bundle is everything shown in one language.
type Bundle struct {
	Language quantum.Language  `yaml:"-"`
	Name     string            `yaml:"name"`
	SEO      SEO               `yaml:"seo"`
	Strings  map[string]string `yaml:"strings"`
	Sections []Section         `yaml:"sections"`
	Privacy  Page              `yaml:"privacy"`
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Typographer),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

func render(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark escapes raw HTML unless WithUnsafe is set.
	return template.HTML(buf.String()), nil
}

// ParseBundle decodes and renders one language file.
func ParseBundle(lang quantum.Language, data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse %s content: %w", lang, err)
	}
	b.Language = lang
	if b.Strings == nil {
		b.Strings = make(map[string]string)
	}

	seen := make(map[string]bool)
	for i := range b.Sections {
		s := &b.Sections[i]
		if s.ID == "" {
			return nil, fmt.Errorf("%s content: section %d has no id", lang, i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%s content: duplicate section %q", lang, s.ID)
		}
		seen[s.ID] = true

		html, err := render(s.Body)
		if err != nil {
			return nil, fmt.Errorf("%s content: section %q: %w", lang, s.ID, err)
		}
		s.HTML = html
	}

	html, err := render(b.Privacy.Body)
	if err != nil {
		return nil, fmt.Errorf("%s content: privacy page: %w", lang, err)
	}
	b.Privacy.HTML = html
	return &b, nil
}

// Catalog holds a bundle per language. Lookups fall back to Polish and then
// to the key itself.
type Catalog struct {
	bundles map[quantum.Language]*Bundle
}

// Load reads <lang>.yaml for every supported language from fsys. Only the
// default language is required.
func Load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{bundles: make(map[quantum.Language]*Bundle)}
	for _, lang := range quantum.Languages {
		data, err := fs.ReadFile(fsys, string(lang)+".yaml")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s content: %w", lang, err)
		}
		b, err := ParseBundle(lang, data)
		if err != nil {
			return nil, err
		}
		c.bundles[lang] = b
	}
	if c.bundles[quantum.DefaultLanguage] == nil {
		return nil, fmt.Errorf("missing %s.yaml", quantum.DefaultLanguage)
	}
	return c, nil
}

// Default returns the catalog built into the binary.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads the built-in catalog and replaces every language that has a
// file in dir. An empty dir returns the built-in catalog.
func LoadDir(dir string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return c, nil
	}
	for _, lang := range quantum.Languages {
		path := filepath.Join(dir, string(lang)+".yaml")
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		b, err := ParseBundle(lang, data)
		if err != nil {
			return nil, err
		}
		c.bundles[lang] = b
	}
	return c, nil
}

// Bundle returns the bundle for lang, or the default language bundle.
func (c *Catalog) Bundle(lang quantum.Language) *Bundle {
	if b, ok := c.bundles[lang]; ok {
		return b
	}
	return c.bundles[quantum.DefaultLanguage]
}

// Has reports whether lang has its own bundle.
func (c *Catalog) Has(lang quantum.Language) bool {
	_, ok := c.bundles[lang]
	return ok
}

// T translates key.
func (c *Catalog) T(lang quantum.Language, key string) string {
	if b, ok := c.bundles[lang]; ok {
		if s, ok := b.Strings[key]; ok && s != "" {
			return s
		}
	}
	if s, ok := c.bundles[quantum.DefaultLanguage].Strings[key]; ok && s != "" {
		return s
	}
	return key
}

// Sections returns the sections for lang in default-language order. Sections
// lang does not translate come from the default language.
func (c *Catalog) Sections(lang quantum.Language) []Section {
	fallback := c.bundles[quantum.DefaultLanguage].Sections
	b, ok := c.bundles[lang]
	if !ok || lang == quantum.DefaultLanguage {
		return append([]Section(nil), fallback...)
	}

	byID := make(map[string]Section, len(b.Sections))
	for _, s := range b.Sections {
		byID[s.ID] = s
	}
	out := make([]Section, 0, len(fallback))
	for _, s := range fallback {
		if own, ok := byID[s.ID]; ok {
			out = append(out, own)
		} else {
			out = append(out, s)
		}
	}
	return out
}

// Section returns one section by id.
func (c *Catalog) Section(lang quantum.Language, id string) (Section, bool) {
	for _, s := range c.Sections(lang) {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// Privacy returns the privacy page for lang.
func (c *Catalog) Privacy(lang quantum.Language) Page {
	if b, ok := c.bundles[lang]; ok && b.Privacy.Title != "" {
		return b.Privacy
	}
	return c.bundles[quantum.DefaultLanguage].Privacy
}

// SEO returns head strings for lang, filling gaps from the default language.
func (c *Catalog) SEO(lang quantum.Language) SEO {
	def := c.bundles[quantum.DefaultLanguage].SEO
	b, ok := c.bundles[lang]
	if !ok {
		return def
	}
	seo := b.SEO
	if seo.Title == "" {
		seo.Title = def.Title
	}
	if seo.Description == "" {
		seo.Description = def.Description
	}
	if seo.Locale == "" {
		seo.Locale = def.Locale
	}
	return seo
}

// Problems lists translation gaps and unknown sections. An empty result
// means every language is complete.
func (c *Catalog) Problems() []string {
	var problems []string
	known := make(map[string]bool, len(SectionIDs))
	for _, id := range SectionIDs {
		known[id] = true
	}

	def := c.bundles[quantum.DefaultLanguage]
	for _, lang := range quantum.Languages {
		b, ok := c.bundles[lang]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: no content file", lang))
			continue
		}
		for _, s := range b.Sections {
			if !known[s.ID] {
				problems = append(problems, fmt.Sprintf("%s: unknown section %q", lang, s.ID))
			}
			if s.Title == "" {
				problems = append(problems, fmt.Sprintf("%s: section %q has no title", lang, s.ID))
			}
		}
		if b.SEO.Title == "" {
			problems = append(problems, fmt.Sprintf("%s: seo.title is empty", lang))
		}
		if lang == quantum.DefaultLanguage {
			continue
		}

		var missing []string
		for key := range def.Strings {
			if b.Strings[key] == "" {
				missing = append(missing, key)
			}
		}
		sort.Strings(missing)
		for _, key := range missing {
			problems = append(problems, fmt.Sprintf("%s: missing string %q", lang, key))
		}

		own := make(map[string]bool, len(b.Sections))
		for _, s := range b.Sections {
			own[s.ID] = true
		}
		for _, s := range def.Sections {
			if !own[s.ID] {
				problems = append(problems, fmt.Sprintf("%s: missing section %q", lang, s.ID))
			}
		}
	}
	return problems
}

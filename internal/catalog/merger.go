package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-yaml"
	"github.com/wudi/apigw/internal/config"
	"github.com/wudi/apigw/internal/logging"
	"go.uber.org/zap"
)

//go:embed templates/docs.html
var docsHTML string

var docsTpl = template.Must(template.New("docs").Parse(docsHTML))

// Merged document metadata
const (
	MergedOpenAPIVersion = "3.0.0"
	MergedTitle          = "API Gateway Documentation"
	MergedVersion        = "1.0.0"
	MergedDescription    = "Automatically merged API documentation"

	// SwaggerUIVersion is the viewer release loaded by the HTML page.
	SwaggerUIVersion = "4.14.0"
)

// Collision kinds
const (
	KindService        = "service"
	KindPath           = "path"
	KindSchema         = "schema"
	KindSecurityScheme = "securityScheme"
)

// Options configures a Merger.
type Options struct {
	// DocsPath is the directory searched for service documents.
	DocsPath string
	// Pattern is a doublestar glob relative to DocsPath.
	Pattern string
	// OpenAPIPath receives the merged document as YAML.
	OpenAPIPath string
	// HTMLPath receives the documentation page.
	HTMLPath string
	// ServerURL is the single server entry of the merged document.
	ServerURL string
	// SpecURL is the externally reachable URL of the merged document.
	SpecURL string
}

// OptionsFromConfig derives merger options from the gateway config.
func OptionsFromConfig(cfg *config.Config) Options {
	base := cfg.AdvertisedBaseURL()
	return Options{
		DocsPath:    cfg.Docs.DocsPath,
		Pattern:     cfg.Docs.Pattern,
		OpenAPIPath: cfg.Docs.OpenAPIPath,
		HTMLPath:    cfg.Docs.HTMLPath(),
		ServerURL:   base,
		SpecURL:     base + cfg.Docs.SpecRoute,
	}
}

// Document is one discovered service document.
type Document struct {
	// Key is the file name without extension.
	Key  string
	Path string
	Spec *openapi3.T
}

// Collision records an entry of the merged document that was overwritten.
type Collision struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	// Previous is the service key whose entry was replaced by Service's.
	Previous string `json:"previous"`
	Service  string `json:"service"`
}

// Result is the outcome of a merge.
type Result struct {
	Doc        *openapi3.T
	Services   []string
	Collisions []Collision
}

// Merger aggregates per-service OpenAPI documents into one.
type Merger struct {
	opts   Options
	logger *zap.Logger
}

// NewMerger creates a Merger. A nil logger uses the global logger.
func NewMerger(opts Options, logger *zap.Logger) *Merger {
	if opts.Pattern == "" {
		opts.Pattern = "**/*.{yaml,yml}"
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Merger{opts: opts, logger: logger}
}

// Options returns the merger options.
func (m *Merger) Options() Options {
	return m.opts
}

// Discover loads every document below DocsPath matching Pattern, following
// symbolic links. Documents are returned sorted by key. Any unreadable or
// unparsable file aborts discovery.
func (m *Merger) Discover() ([]Document, error) {
	info, err := os.Stat(m.opts.DocsPath)
	if err != nil {
		return nil, &SpecLoadError{Path: m.opts.DocsPath, Err: err}
	}
	if !info.IsDir() {
		return nil, &SpecLoadError{Path: m.opts.DocsPath, Err: errors.New("not a directory")}
	}

	matches, err := doublestar.Glob(os.DirFS(m.opts.DocsPath), m.opts.Pattern,
		doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, &SpecLoadError{Path: m.opts.DocsPath, Err: err}
	}
	sort.Strings(matches)

	byKey := make(map[string]Document, len(matches))
	for _, match := range matches {
		file := filepath.Join(m.opts.DocsPath, filepath.FromSlash(match))
		doc, err := loadDocument(file)
		if err != nil {
			return nil, err
		}
		key := strings.TrimSuffix(path.Base(match), path.Ext(match))
		if prev, ok := byKey[key]; ok {
			m.logger.Warn("Duplicate service document",
				zap.String("service", key),
				zap.String("replaced", prev.Path),
				zap.String("path", file),
			)
		}
		byKey[key] = Document{Key: key, Path: file, Spec: doc}
	}

	docs := make([]Document, 0, len(byKey))
	for _, d := range byKey {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func loadDocument(file string) (*openapi3.T, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &SpecLoadError{Path: file, Err: err}
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, &SpecParseError{Path: file, Err: err}
	}
	if doc.OpenAPI == "" {
		return nil, &SpecParseError{Path: file, Err: errors.New("missing openapi version")}
	}
	if _, err := MountPrefix(doc); err != nil {
		return nil, &SpecParseError{Path: file, Err: err}
	}
	return doc, nil
}

// MountPrefix returns the path of the document's first server URL, with
// server variables replaced by their defaults and the trailing slash
// removed. A document without servers mounts at the root.
func MountPrefix(doc *openapi3.T) (string, error) {
	if len(doc.Servers) == 0 || doc.Servers[0] == nil {
		return "", nil
	}
	server := doc.Servers[0]
	raw := server.URL
	for name, v := range server.Variables {
		if v != nil {
			raw = strings.ReplaceAll(raw, "{"+name+"}", v.Default)
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("server url %q: %w", server.URL, err)
	}
	return strings.TrimSuffix(u.Path, "/"), nil
}

// NewDocument returns the empty merged document.
func (m *Merger) NewDocument() *openapi3.T {
	return &openapi3.T{
		OpenAPI: MergedOpenAPIVersion,
		Info: &openapi3.Info{
			Title:       MergedTitle,
			Version:     MergedVersion,
			Description: MergedDescription,
		},
		Servers:    openapi3.Servers{{URL: m.opts.ServerURL}},
		Paths:      openapi3.NewPaths(),
		Components: &openapi3.Components{},
	}
}

// Merge combines docs in key order. Every path is mounted under its
// document's prefix and every schema and security scheme is copied; a later
// document replaces an earlier one's entry of the same name, and each
// replacement is reported. Input documents are not modified.
func (m *Merger) Merge(docs []Document) (*Result, error) {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	merged := m.NewDocument()
	res := &Result{Doc: merged}

	pathOwner := make(map[string]string)
	schemaOwner := make(map[string]string)
	schemeOwner := make(map[string]string)
	serviceOwner := make(map[string]string)

	for _, d := range sorted {
		if prev, ok := serviceOwner[d.Key]; ok {
			res.Collisions = append(res.Collisions, Collision{Kind: KindService, Name: d.Key, Previous: prev, Service: d.Key})
		} else {
			res.Services = append(res.Services, d.Key)
		}
		serviceOwner[d.Key] = d.Key

		prefix, err := MountPrefix(d.Spec)
		if err != nil {
			return nil, &SpecParseError{Path: d.Path, Err: err}
		}

		if d.Spec.Paths != nil {
			for _, p := range d.Spec.Paths.InMatchingOrder() {
				key := prefix + p
				if prev, ok := pathOwner[key]; ok {
					res.Collisions = append(res.Collisions, Collision{Kind: KindPath, Name: key, Previous: prev, Service: d.Key})
				}
				pathOwner[key] = d.Key
				merged.Paths.Set(key, d.Spec.Paths.Value(p))
			}
		}

		if c := d.Spec.Components; c != nil {
			for _, name := range sortedKeys(c.Schemas) {
				if merged.Components.Schemas == nil {
					merged.Components.Schemas = make(openapi3.Schemas)
				}
				if prev, ok := schemaOwner[name]; ok {
					res.Collisions = append(res.Collisions, Collision{Kind: KindSchema, Name: name, Previous: prev, Service: d.Key})
				}
				schemaOwner[name] = d.Key
				merged.Components.Schemas[name] = c.Schemas[name]
			}
			for _, name := range sortedKeys(c.SecuritySchemes) {
				if merged.Components.SecuritySchemes == nil {
					merged.Components.SecuritySchemes = make(openapi3.SecuritySchemes)
				}
				if prev, ok := schemeOwner[name]; ok {
					res.Collisions = append(res.Collisions, Collision{Kind: KindSecurityScheme, Name: name, Previous: prev, Service: d.Key})
				}
				schemeOwner[name] = d.Key
				merged.Components.SecuritySchemes[name] = c.SecuritySchemes[name]
			}
		}
	}

	for _, c := range res.Collisions {
		m.logger.Warn("Merged document entry overwritten",
			zap.String("kind", c.Kind),
			zap.String("name", c.Name),
			zap.String("previous", c.Previous),
			zap.String("service", c.Service),
		)
	}

	return res, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalYAML encodes the merged document as YAML.
func MarshalYAML(doc *openapi3.T) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	out, err := yaml.JSONToYAML(data)
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	return out, nil
}

// RenderHTML renders the documentation page for the merged document.
func (m *Merger) RenderHTML() ([]byte, error) {
	var b strings.Builder
	err := docsTpl.Execute(&b, struct {
		Title     string
		UIVersion string
		SpecURL   string
	}{
		Title:     MergedTitle,
		UIVersion: SwaggerUIVersion,
		SpecURL:   m.opts.SpecURL,
	})
	if err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Publish writes the merged document and the documentation page, creating
// parent directories. Both writes replace the previous files.
func (m *Merger) Publish(res *Result) error {
	spec, err := MarshalYAML(res.Doc)
	if err != nil {
		return err
	}
	page, err := m.RenderHTML()
	if err != nil {
		return fmt.Errorf("render documentation page: %w", err)
	}

	if err := writeFile(m.opts.OpenAPIPath, spec); err != nil {
		return err
	}
	return writeFile(m.opts.HTMLPath, page)
}

func writeFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Run discovers, merges and publishes. Nothing is written when discovery
// or merging fails.
func (m *Merger) Run() (*Result, error) {
	docs, err := m.Discover()
	if err != nil {
		return nil, err
	}
	res, err := m.Merge(docs)
	if err != nil {
		return nil, err
	}
	if err := m.Publish(res); err != nil {
		return nil, err
	}

	m.logger.Info("API documentation merged",
		zap.Strings("services", res.Services),
		zap.Int("paths", res.Doc.Paths.Len()),
		zap.Int("collisions", len(res.Collisions)),
		zap.String("openapi_path", m.opts.OpenAPIPath),
		zap.String("html_path", m.opts.HTMLPath),
	)
	return res, nil
}

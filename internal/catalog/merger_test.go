package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const specA = `openapi: 3.0.0
info:
  title: A
  version: "1.0"
servers:
  - url: http://a.internal/a/
paths:
  /items:
    get:
      responses:
        "200":
          description: ok
components:
  schemas:
    Error:
      type: object
      properties:
        code:
          type: integer
    Item:
      type: object
  securitySchemes:
    cookieAuth:
      type: apiKey
      in: cookie
      name: session
`

const specB = `openapi: 3.0.0
info:
  title: B
  version: "1.0"
servers:
  - url: "{scheme}://b.internal/{base}"
    variables:
      scheme:
        default: http
      base:
        default: b
paths:
  /items:
    post:
      responses:
        "201":
          description: created
components:
  schemas:
    Error:
      type: object
      properties:
        message:
          type: string
`

const specNoServers = `openapi: 3.0.0
info:
  title: Root
  version: "1.0"
paths:
  /health:
    get:
      responses:
        "200":
          description: ok
`

func writeSpec(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestMerger(t *testing.T, docsDir string) (*Merger, *observer.ObservedLogs) {
	t.Helper()
	out := t.TempDir()
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMerger(Options{
		DocsPath:    docsDir,
		OpenAPIPath: filepath.Join(out, "static", "openapi.yaml"),
		HTMLPath:    filepath.Join(out, "static", "openapi.html"),
		ServerURL:   "https://gw.example.com",
		SpecURL:     "https://gw.example.com/doc/openapi.yaml",
	}, zap.New(core))
	return m, logs
}

func pathKeys(doc *openapi3.T) []string {
	keys := make([]string, 0, doc.Paths.Len())
	for k := range doc.Paths.Map() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "b.yml", specB)
	writeSpec(t, dir, "nested/deeper/a.yaml", specA)
	writeSpec(t, dir, "notes.txt", "not a spec")
	writeSpec(t, dir, "c.json", "{}")

	m, _ := newTestMerger(t, dir)
	docs, err := m.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Key != "a" || docs[1].Key != "b" {
		t.Errorf("expected keys [a b], got [%s %s]", docs[0].Key, docs[1].Key)
	}
	if !strings.HasSuffix(docs[0].Path, filepath.Join("nested", "deeper", "a.yaml")) {
		t.Errorf("unexpected path %s", docs[0].Path)
	}
}

func TestDiscoverFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	writeSpec(t, outside, "linked.yaml", specA)
	if err := os.Symlink(outside, filepath.Join(dir, "shared")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	m, _ := newTestMerger(t, dir)
	docs, err := m.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Key != "linked" {
		t.Fatalf("expected linked document, got %+v", docs)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	m, _ := newTestMerger(t, filepath.Join(t.TempDir(), "missing"))
	_, err := m.Discover()

	var loadErr *SpecLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected SpecLoadError, got %v", err)
	}
}

func TestRunParseFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)
	bad := writeSpec(t, dir, "broken.yaml", "openapi: [unterminated")

	m, _ := newTestMerger(t, dir)
	_, err := m.Run()

	var parseErr *SpecParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected SpecParseError, got %v", err)
	}
	if parseErr.Path != bad {
		t.Errorf("expected path %s, got %s", bad, parseErr.Path)
	}
	if _, err := os.Stat(m.Options().OpenAPIPath); !os.IsNotExist(err) {
		t.Error("merged document must not be written on failure")
	}
	if _, err := os.Stat(m.Options().HTMLPath); !os.IsNotExist(err) {
		t.Error("html page must not be written on failure")
	}
}

func TestDiscoverRejectsNonOpenAPI(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "config.yaml", "foo: bar\n")

	m, _ := newTestMerger(t, dir)
	_, err := m.Discover()

	var parseErr *SpecParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected SpecParseError, got %v", err)
	}
}

func TestMergePrefixesPaths(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)
	writeSpec(t, dir, "b.yaml", specB)
	writeSpec(t, dir, "root.yaml", specNoServers)

	m, _ := newTestMerger(t, dir)
	docs, err := m.Discover()
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Merge(docs)
	if err != nil {
		t.Fatal(err)
	}

	got := pathKeys(res.Doc)
	want := []string{"/a/items", "/b/items", "/health"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("paths = %v, want %v", got, want)
	}
	if res.Doc.Paths.Value("/a/items").Get == nil || res.Doc.Paths.Value("/b/items").Post == nil {
		t.Error("path items should be carried over")
	}

	if res.Doc.OpenAPI != "3.0.0" || res.Doc.Info.Title != "API Gateway Documentation" ||
		res.Doc.Info.Version != "1.0.0" || res.Doc.Info.Description != "Automatically merged API documentation" {
		t.Errorf("unexpected document header %+v", res.Doc.Info)
	}
	if len(res.Doc.Servers) != 1 || res.Doc.Servers[0].URL != "https://gw.example.com" {
		t.Errorf("unexpected servers %+v", res.Doc.Servers)
	}
	if strings.Join(res.Services, ",") != "a,b,root" {
		t.Errorf("services = %v", res.Services)
	}
	if _, ok := res.Doc.Components.SecuritySchemes["cookieAuth"]; !ok {
		t.Error("security scheme should be copied")
	}

	// inputs untouched
	if docs[0].Spec.Paths.Value("/items") == nil || docs[0].Spec.Paths.Len() != 1 {
		t.Error("input document was modified")
	}
}

func TestMergeSchemaCollisionLastWins(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)
	writeSpec(t, dir, "b.yaml", specB)

	m, logs := newTestMerger(t, dir)
	docs, err := m.Discover()
	if err != nil {
		t.Fatal(err)
	}

	// merge order is lexicographic regardless of input order
	docs[0], docs[1] = docs[1], docs[0]
	res, err := m.Merge(docs)
	if err != nil {
		t.Fatal(err)
	}

	errSchema := res.Doc.Components.Schemas["Error"]
	if errSchema == nil || errSchema.Value == nil {
		t.Fatal("expected Error schema")
	}
	if _, ok := errSchema.Value.Properties["message"]; !ok {
		t.Errorf("expected b's Error schema to win, got properties %v", errSchema.Value.Properties)
	}
	if _, ok := res.Doc.Components.Schemas["Item"]; !ok {
		t.Error("non-colliding schema lost")
	}

	if len(res.Collisions) != 1 {
		t.Fatalf("expected 1 collision, got %+v", res.Collisions)
	}
	c := res.Collisions[0]
	if c.Kind != KindSchema || c.Name != "Error" || c.Previous != "a" || c.Service != "b" {
		t.Errorf("unexpected collision %+v", c)
	}
	if n := logs.FilterMessage("Merged document entry overwritten").Len(); n != 1 {
		t.Errorf("expected 1 collision warning, got %d", n)
	}
}

func TestMergePathCollision(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "one.yaml", specNoServers)
	writeSpec(t, dir, "two.yaml", specNoServers)

	m, _ := newTestMerger(t, dir)
	docs, _ := m.Discover()
	res, err := m.Merge(docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Doc.Paths.Len() != 1 {
		t.Errorf("expected 1 path, got %d", res.Doc.Paths.Len())
	}
	if len(res.Collisions) != 1 || res.Collisions[0].Kind != KindPath || res.Collisions[0].Service != "two" {
		t.Errorf("unexpected collisions %+v", res.Collisions)
	}
}

func TestMountPrefix(t *testing.T) {
	tests := []struct {
		name    string
		servers openapi3.Servers
		want    string
	}{
		{"none", nil, ""},
		{"root", openapi3.Servers{{URL: "http://svc/"}}, ""},
		{"host only", openapi3.Servers{{URL: "http://svc"}}, ""},
		{"trailing slash", openapi3.Servers{{URL: "http://svc/api/v1/"}}, "/api/v1"},
		{"relative", openapi3.Servers{{URL: "/users"}}, "/users"},
		{"first server wins", openapi3.Servers{{URL: "/one"}, {URL: "/two"}}, "/one"},
		{"variables", openapi3.Servers{{
			URL:       "http://svc/{version}",
			Variables: map[string]*openapi3.ServerVariable{"version": {Default: "v2"}},
		}}, "/v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MountPrefix(&openapi3.T{Servers: tt.servers})
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunPublishesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)
	writeSpec(t, dir, "b.yaml", specB)

	m, logs := newTestMerger(t, dir)
	res, err := m.Run()
	if err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("API documentation merged").Len() != 1 {
		t.Error("expected merge summary log")
	}

	data, err := os.ReadFile(m.Options().OpenAPIPath)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		t.Fatalf("published document does not parse: %v", err)
	}

	if strings.Join(pathKeys(reloaded), ",") != strings.Join(pathKeys(res.Doc), ",") {
		t.Errorf("paths changed across round trip: %v vs %v", pathKeys(reloaded), pathKeys(res.Doc))
	}
	for name := range res.Doc.Components.Schemas {
		if _, ok := reloaded.Components.Schemas[name]; !ok {
			t.Errorf("schema %s lost across round trip", name)
		}
	}
	for name := range res.Doc.Components.SecuritySchemes {
		if _, ok := reloaded.Components.SecuritySchemes[name]; !ok {
			t.Errorf("security scheme %s lost across round trip", name)
		}
	}

	page, err := os.ReadFile(m.Options().HTMLPath)
	if err != nil {
		t.Fatal(err)
	}
	html := string(page)
	if !strings.Contains(html, "swagger-ui/4.14.0/swagger-ui-bundle.js") {
		t.Error("page should load the swagger ui bundle")
	}
	if !specURLPattern.MatchString(html) {
		t.Errorf("page should point at the spec url:\n%s", html)
	}
}

var specURLPattern = regexp.MustCompile(`url: "https:(\\/|/){2}gw\.example\.com(\\/|/)doc(\\/|/)openapi\.yaml"`)

func TestRunOverwritesPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)

	m, _ := newTestMerger(t, dir)
	os.MkdirAll(filepath.Dir(m.Options().OpenAPIPath), 0o755)
	os.WriteFile(m.Options().OpenAPIPath, []byte(strings.Repeat("stale\n", 1000)), 0o644)

	if _, err := m.Run(); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(m.Options().OpenAPIPath)
	if strings.Contains(string(data), "stale") {
		t.Error("previous output should be replaced")
	}
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const serviceSpec = `openapi: 3.0.0
info:
  title: Users
  version: "1.0"
servers:
  - url: http://users:8001/users
paths:
  /me:
    get:
      responses:
        "200":
          description: ok
`

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(docs, "users.yaml"), []byte(serviceSpec), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "static", "openapi.yaml")

	cfg := `api_gateway_url: "127.0.0.1:0"
authorization_api_url: "http://127.0.0.1:1/verify"
services:
  - path: /users
    target_service: users
    target_port: 8001
logger_config:
  out_file: ` + filepath.Join(dir, "logs", "out.log") + `
  err_file: ` + filepath.Join(dir, "logs", "err.log") + `
docs:
  docs_path: ` + docs + `
  openapi_path: ` + out + `
`
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, out
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run(append([]string{"apigw"}, args...))
	return buf.String(), err
}

func TestServeValidate(t *testing.T) {
	path, _ := writeConfig(t)
	out, err := run(t, "serve", "--config", path, "--validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "Configuration is valid") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestServeRejectsMissingConfig(t *testing.T) {
	if _, err := run(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--validate"); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestDocsCommand(t *testing.T) {
	path, specOut := writeConfig(t)
	out, err := run(t, "docs", "--config", path)
	if err != nil {
		t.Fatalf("docs failed: %v", err)
	}
	if !strings.Contains(out, "Merged 1 services") {
		t.Errorf("unexpected output %q", out)
	}

	data, err := os.ReadFile(specOut)
	if err != nil {
		t.Fatalf("merged spec not written: %v", err)
	}
	if !strings.Contains(string(data), "/users/me") {
		t.Errorf("merged spec missing mounted path:\n%s", data)
	}
	if _, err := os.Stat(strings.TrimSuffix(specOut, ".yaml") + ".html"); err != nil {
		t.Errorf("docs page not written: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "apigw dev") {
		t.Errorf("unexpected version output %q", out)
	}
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.APIGatewayURL == "" {
		return fmt.Errorf("api_gateway_url is required")
	}
	if _, _, err := net.SplitHostPort(cfg.APIGatewayURL); err != nil {
		return fmt.Errorf("api_gateway_url %q: %w", cfg.APIGatewayURL, err)
	}

	if cfg.AuthorizationAPIURL == "" {
		return fmt.Errorf("authorization_api_url is required")
	}
	u, err := url.Parse(cfg.AuthorizationAPIURL)
	if err != nil {
		return fmt.Errorf("authorization_api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("authorization_api_url: unsupported scheme %q", u.Scheme)
	}

	if len(cfg.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}
	for i, svc := range cfg.Services {
		if svc.Path == "" {
			return fmt.Errorf("service %d: path is required", i)
		}
		if svc.TargetService == "" {
			return fmt.Errorf("service %s: target_service is required", svc.Path)
		}
		if svc.TargetPort <= 0 || svc.TargetPort > 65535 {
			return fmt.Errorf("service %s: invalid target_port %d", svc.Path, svc.TargetPort)
		}
	}

	for i, ep := range cfg.EndpointsWithoutAuth {
		if ep.Endpoint == "" {
			return fmt.Errorf("endpoints_without_auth %d: endpoint is required", i)
		}
		if !validHTTPMethods[ep.Method] {
			return fmt.Errorf("endpoints_without_auth %s: invalid method %q", ep.Endpoint, ep.Method)
		}
	}

	switch cfg.Correlation {
	case CorrelationConnection, CorrelationRequest:
	default:
		return fmt.Errorf("invalid correlation mode: %s", cfg.Correlation)
	}

	if err := l.validateDocs(cfg.Docs); err != nil {
		return err
	}

	for _, m := range cfg.CORS.AllowMethods {
		if !validHTTPMethods[m] {
			return fmt.Errorf("cors: invalid method %q", m)
		}
	}

	if err := l.validateTransport(cfg.Transport); err != nil {
		return err
	}

	bus := cfg.Logging.Bus
	if bus.Enabled {
		if bus.Type != BusAMQP && bus.Type != BusRedis {
			return fmt.Errorf("logger_config.bus: invalid type %q", bus.Type)
		}
		if bus.URL == "" {
			return fmt.Errorf("logger_config.bus: url is required")
		}
		if bus.Topic == "" {
			return fmt.Errorf("logger_config.bus: topic is required")
		}
	}

	if cfg.Admin.Enabled {
		if cfg.Admin.Address == "" {
			return fmt.Errorf("admin: address is required")
		}
		if cfg.Admin.Address == cfg.APIGatewayURL {
			return fmt.Errorf("admin: address must differ from api_gateway_url")
		}
	}

	return nil
}

func (l *Loader) validateDocs(d DocsConfig) error {
	if d.SpecRoute == "" || !strings.HasPrefix(d.SpecRoute, "/") {
		return fmt.Errorf("docs: spec_route must start with /")
	}
	if d.UIRoute == "" || !strings.HasPrefix(d.UIRoute, "/") {
		return fmt.Errorf("docs: ui_route must start with /")
	}
	if d.SpecRoute == d.UIRoute {
		return fmt.Errorf("docs: spec_route and ui_route must differ")
	}
	if d.OpenAPIPath == "" {
		return fmt.Errorf("docs: openapi_path is required")
	}
	if d.HTMLPath() == d.OpenAPIPath {
		return fmt.Errorf("docs: openapi_path must not end in .html")
	}
	return nil
}

func (l *Loader) validateTransport(t TransportConfig) error {
	if t.MaxIdleConns < 0 || t.MaxIdleConnsPerHost < 0 {
		return fmt.Errorf("transport: idle connection limits must not be negative")
	}
	if t.IdleConnTimeout < 0 || t.DialTimeout < 0 || t.TLSHandshakeTimeout < 0 {
		return fmt.Errorf("transport: timeouts must not be negative")
	}
	if t.CAFile != "" {
		if _, err := os.Stat(t.CAFile); err != nil {
			return fmt.Errorf("transport: ca_file: %w", err)
		}
	}
	return nil
}

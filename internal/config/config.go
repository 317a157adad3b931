package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Correlation modes select when the x-request-id value is generated.
const (
	// CorrelationConnection generates one identifier per accepted connection
	// and reuses it for every request on that connection.
	CorrelationConnection = "connection"
	// CorrelationRequest generates a fresh identifier for every request.
	CorrelationRequest = "request"
)

// Event bus sink types.
const (
	BusAMQP  = "amqp"
	BusRedis = "redis"
)

// Config represents the complete gateway configuration. It is loaded once
// at startup and shared read-only by every connection handler.
type Config struct {
	// APIGatewayURL is the listen address, e.g. "0.0.0.0:8080".
	APIGatewayURL string `yaml:"api_gateway_url"`
	// AdvertisedURL is the host[:port] clients use to reach the gateway.
	// Defaults to APIGatewayURL.
	AdvertisedURL string `yaml:"advertised_url"`
	// IsHTTPS only changes the scheme of externally advertised URLs.
	IsHTTPS              bool             `yaml:"is_https"`
	AuthorizationAPIURL  string           `yaml:"authorization_api_url"`
	Services             []ServiceConfig  `yaml:"services"`
	EndpointsWithoutAuth []NoAuthEndpoint `yaml:"endpoints_without_auth"`
	Correlation          string           `yaml:"correlation"`
	Logging              LoggingConfig    `yaml:"logger_config"`
	Docs                 DocsConfig       `yaml:"docs"`
	CORS                 CORSConfig       `yaml:"cors"`
	Transport            TransportConfig  `yaml:"transport"`
	Server               ServerConfig     `yaml:"server"`
	Admin                AdminConfig      `yaml:"admin"`
}

// ServiceConfig maps a path prefix to a backend.
type ServiceConfig struct {
	Path          string `yaml:"path"`
	TargetService string `yaml:"target_service"`
	TargetPort    int    `yaml:"target_port"`
}

// NoAuthEndpoint is an exact (endpoint, method) pair that skips authorization.
type NoAuthEndpoint struct {
	Endpoint string `yaml:"endpoint"`
	Method   string `yaml:"method"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	OutFile  string            `yaml:"out_file"` // info and warn; stdout when empty
	ErrFile  string            `yaml:"err_file"` // error; stderr when empty
	Rotation LogRotationConfig `yaml:"rotation"`
	Bus      BusConfig         `yaml:"bus"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`
	LocalTime  bool `yaml:"local_time"`
}

// BusConfig configures the best-effort event bus log sink.
type BusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // amqp or redis
	URL     string `yaml:"url"`
	// Topic is the AMQP routing key or the Redis channel.
	Topic    string `yaml:"topic"`
	Exchange string `yaml:"exchange"` // amqp only
	// QueueSize bounds the number of entries waiting to be published.
	QueueSize int `yaml:"queue_size"`
	// AckTimeout bounds a single publish.
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

// DocsConfig configures the merged API documentation.
type DocsConfig struct {
	// DocsPath is the directory holding per-service OpenAPI documents.
	DocsPath string `yaml:"docs_path"`
	// OpenAPIPath is where the merged document is written. The HTML page
	// is written next to it with an .html extension.
	OpenAPIPath string `yaml:"openapi_path"`
	// Pattern selects spec files below DocsPath.
	Pattern   string `yaml:"pattern"`
	SpecRoute string `yaml:"spec_route"`
	UIRoute   string `yaml:"ui_route"`
}

// HTMLPath returns the path of the documentation page.
func (d DocsConfig) HTMLPath() string {
	return strings.TrimSuffix(d.OpenAPIPath, filepath.Ext(d.OpenAPIPath)) + ".html"
}

// CORSConfig defines the CORS headers added to every response.
type CORSConfig struct {
	AllowMethods     []string `yaml:"allow_methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	AllowCredentials *bool    `yaml:"allow_credentials"`
}

// TransportConfig tunes the outbound transport shared by authorization
// checks and backend forwarding. No response timeout is applied.
type TransportConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
	// CAFile is a PEM bundle trusted for https targets instead of the
	// system roots.
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ServerConfig holds listener settings. Zero values mean no limit.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig defines the admin listener serving health and metrics.
type AdminConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	MetricsPath string `yaml:"metrics_path"`
}

// AdvertisedBaseURL returns scheme://host the gateway is reachable at.
func (c *Config) AdvertisedBaseURL() string {
	scheme := "http"
	if c.IsHTTPS {
		scheme = "https"
	}
	host := c.AdvertisedURL
	if host == "" {
		host = c.APIGatewayURL
	}
	return scheme + "://" + host
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		APIGatewayURL: "0.0.0.0:8080",
		Correlation:   CorrelationConnection,
		Logging: LoggingConfig{
			Level: "info",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
			},
			Bus: BusConfig{
				Type:       BusAMQP,
				Topic:      "api-gateway-logs",
				QueueSize:  1024,
				AckTimeout: time.Second,
			},
		},
		Docs: DocsConfig{
			DocsPath:    "docs",
			OpenAPIPath: "static/openapi.yaml",
			Pattern:     "**/*.{yaml,yml}",
			SpecRoute:   "/doc/openapi.yaml",
			UIRoute:     "/doc",
		},
		CORS: CORSConfig{
			AllowMethods: []string{"GET", "POST", "OPTIONS", "PUT", "DELETE"},
			AllowHeaders: []string{"Content-Type"},
		},
		Transport: TransportConfig{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialTimeout:         30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Admin: AdminConfig{
			Address:     "127.0.0.1:9090",
			MetricsPath: "/metrics",
		},
	}
}

package router

import (
	"strconv"
	"strings"

	"github.com/wudi/apigw/internal/config"
)

// Route represents a configured service route
type Route struct {
	// Prefix is matched as a literal byte prefix of the request path.
	Prefix        string
	TargetService string
	TargetPort    int

	configIdx int // position in the services list
}

// Target returns the configured upstream as "{target_service}:{target_port}".
func (route *Route) Target() string {
	return route.TargetService + ":" + strconv.Itoa(route.TargetPort)
}

// Index returns the route's position in the configured services list.
func (route *Route) Index() int {
	return route.configIdx
}

// Exemption is an (endpoint, method) pair that skips the authorization check.
type Exemption struct {
	Endpoint string
	Method   string
}

// Table resolves request paths to service routes. It is built once and
// never mutated, so it is safe for concurrent use without locking.
type Table struct {
	routes     []*Route
	exemptions map[Exemption]struct{}
}

// NewTable builds a table from the configured services and exemptions.
// Services keep their configured order.
func NewTable(services []config.ServiceConfig, exemptions []config.NoAuthEndpoint) *Table {
	t := &Table{
		routes:     make([]*Route, 0, len(services)),
		exemptions: make(map[Exemption]struct{}, len(exemptions)),
	}
	for i, svc := range services {
		t.routes = append(t.routes, &Route{
			Prefix:        svc.Path,
			TargetService: svc.TargetService,
			TargetPort:    svc.TargetPort,
			configIdx:     i,
		})
	}
	for _, e := range exemptions {
		t.exemptions[Exemption{Endpoint: e.Endpoint, Method: e.Method}] = struct{}{}
	}
	return t
}

// Resolve returns the first route, in configured order, whose prefix is a
// prefix of path. The path is not normalized. Nil means no route.
func (t *Table) Resolve(path string) *Route {
	for _, route := range t.routes {
		if strings.HasPrefix(path, route.Prefix) {
			return route
		}
	}
	return nil
}

// IsExempt reports whether path and method exactly match an exemption.
func (t *Table) IsExempt(path, method string) bool {
	_, ok := t.exemptions[Exemption{Endpoint: path, Method: method}]
	return ok
}

// Routes returns the routes in configured order.
func (t *Table) Routes() []*Route {
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

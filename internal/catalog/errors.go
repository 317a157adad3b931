package catalog

import "fmt"

// SpecLoadError reports a spec file that could not be read.
type SpecLoadError struct {
	Path string
	Err  error
}

func (e *SpecLoadError) Error() string {
	return fmt.Sprintf("load spec %s: %v", e.Path, e.Err)
}

func (e *SpecLoadError) Unwrap() error { return e.Err }

// SpecParseError reports a spec file that is not a usable OpenAPI 3
// document.
type SpecParseError struct {
	Path string
	Err  error
}

func (e *SpecParseError) Error() string {
	return fmt.Sprintf("parse spec %s: %v", e.Path, e.Err)
}

func (e *SpecParseError) Unwrap() error { return e.Err }

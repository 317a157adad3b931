package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/wudi/apigw/internal/errors"
)

// RecoveryConfig configures the recovery middleware
type RecoveryConfig struct {
	// PrintStack captures the stack trace when a panic occurs
	PrintStack bool
	// LogFunc is called when a panic occurs
	LogFunc func(r *http.Request, err interface{}, stack []byte)
}

// RecoveryWithConfig creates a recovery middleware with custom config
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// let net/http abort the connection
					if err == http.ErrAbortHandler {
						panic(err)
					}

					var stack []byte
					if cfg.PrintStack {
						stack = debug.Stack()
					}

					if cfg.LogFunc != nil {
						cfg.LogFunc(r, err, stack)
					}

					errors.ErrInternalServer.WithCause(fmt.Errorf("panic: %v", err)).Write(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

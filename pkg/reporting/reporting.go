// Package reporting forwards server errors to Rollbar.
package reporting

import (
	"net/http"

	"github.com/rollbar/rollbar-go"

	"github.com/noah-isme/profman-api/pkg/config"
)

// Reporter receives unexpected server errors.
type Reporter interface {
	Report(err error, req *http.Request, extras map[string]interface{})
	Close()
}

// New returns a Rollbar reporter when a token is configured, otherwise a no-op.
func New(cfg *config.Config) Reporter {
	if cfg == nil || cfg.Rollbar.Token == "" {
		return Nop{}
	}
	return NewRollbar(cfg.Rollbar.Token, cfg.Env, cfg.Rollbar.CodeVersion)
}

// Rollbar reports through the global rollbar-go client.
type Rollbar struct{}

// NewRollbar configures the rollbar client.
func NewRollbar(token, environment, codeVersion string) *Rollbar {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(environment)
	rollbar.SetCodeVersion(codeVersion)
	rollbar.SetServerRoot("github.com/noah-isme/profman-api")
	rollbar.SetEnabled(true)
	return &Rollbar{}
}

// Report sends err with the request context attached.
func (r *Rollbar) Report(err error, req *http.Request, extras map[string]interface{}) {
	args := []interface{}{err}
	if req != nil {
		args = append(args, req)
	}
	if len(extras) > 0 {
		args = append(args, extras)
	}
	rollbar.Error(args...)
}

// Close flushes pending items.
func (r *Rollbar) Close() {
	rollbar.Wait()
}

// Nop discards reports.
type Nop struct{}

// Report does nothing.
func (Nop) Report(error, *http.Request, map[string]interface{}) {}

// Close does nothing.
func (Nop) Close() {}

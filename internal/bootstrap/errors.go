package bootstrap

import (
	"errors"
	"fmt"
)

// ErrNotBootstrapped is returned by [Manager.Client] when Bootstrap was
// never invoked on the manager. This is a programming error in the host
// wiring, not a runtime provider failure, and is deliberately distinct
// from [UnavailableError].
var ErrNotBootstrapped = errors.New("provider not bootstrapped")

// UnavailableError reports that a provider could not be reached: the
// spawn failed, the handshake timed out, or the provider is in the
// failed state. Callers assembling a merged tool set should skip the
// provider rather than fail the request; Registry.BootstrapAll
// propagates it only for required providers.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// ConfigError reports an invalid provider spec. Construction fails fast;
// a misconfigured provider is never started and never retried.
type ConfigError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("provider config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Field, e.Reason)
}

// FILE: lixenwraith/confgraph/errors.go
package confgraph

import (
	"errors"
	"fmt"
)

// Error kinds carried by ConfigurationError. Use errors.Is to match them.
var (
	ErrConfigNotFound      = errors.New("configuration file not found")
	ErrSyntax              = errors.New("malformed configuration source")
	ErrMalformedTag        = errors.New("malformed tag")
	ErrImport              = errors.New("import failed")
	ErrInvoke              = errors.New("object construction failed")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrExpression          = errors.New("expression evaluation failed")
	ErrKeyNotFound         = errors.New("key not found")
	ErrCLIParse            = errors.New("failed to parse command-line arguments")
	ErrDecode              = errors.New("decode failed")
	ErrValueSize           = errors.New("value size exceeds maximum")
	ErrSecurity            = errors.New("rejected by security options")
	ErrRead                = errors.New("failed to read configuration source")
)

// ConfigurationError is the single error type surfaced by loading and reading
// a configuration. Kind is one of the Err* sentinels, Err the chained cause.
type ConfigurationError struct {
	Msg  string
	Kind error
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ConfigurationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind error, cause error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Msg:  fmt.Sprintf(format, args...),
		Kind: kind,
		Err:  cause,
	}
}

// asConfigurationError passes ConfigurationErrors through and wraps anything else.
func asConfigurationError(kind error, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return newError(kind, err, format, args...)
}

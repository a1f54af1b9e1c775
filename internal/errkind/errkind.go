// Package errkind classifies errors into the taxonomy the core's error
// handling policy (§7) dispatches on: IoError, ProtocolError, ParseError,
// BackpressureError, RepositoryError, ConfigError. Per the design notes'
// preference for polymorphism via interfaces over type hierarchies (§9),
// these are sentinel wrapper errors composed with fmt.Errorf's %w, not an
// exception class hierarchy — callers branch on Is(err, errkind.IO) etc.
// rather than a type switch. eventbus.ErrBackpressure already plays the
// role of BackpressureError and is left where it is rather than re-wrapped
// here.
package errkind

import (
	"errors"
	"fmt"
)

var (
	IO         = errors.New("io error")
	Protocol   = errors.New("protocol error")
	Parse      = errors.New("parse error")
	Repository = errors.New("repository error")
	Config     = errors.New("config error")
)

// WrapIO classifies err as an IoError with added context.
func WrapIO(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, IO, err)
}

// WrapProtocol classifies err as a ProtocolError with added context.
func WrapProtocol(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, Protocol, err)
}

// WrapParse classifies err as a ParseError with added context.
func WrapParse(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, Parse, err)
}

// WrapRepository classifies err as a RepositoryError with added context.
func WrapRepository(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, Repository, err)
}

// WrapConfig classifies err as a ConfigError with added context.
func WrapConfig(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, Config, err)
}

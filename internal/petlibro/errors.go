package petlibro

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for vendor operations. Every error returned by this
// package matches exactly one of these via errors.Is.
var (
	// ErrAuth indicates bad credentials or an unexpected login response.
	ErrAuth = errors.New("petlibro: authentication failed")

	// ErrMissingCredentials is returned when no email or password is configured.
	ErrMissingCredentials = fmt.Errorf("%w: email and password are required", ErrAuth)

	// ErrNetwork covers timeouts, DNS and connection failures, non-2xx
	// statuses and undecodable bodies.
	ErrNetwork = errors.New("petlibro: network error")

	// ErrAPI indicates the response envelope reported a non-zero code.
	// The concrete error is *APIError.
	ErrAPI = errors.New("petlibro: api error")

	// ErrNotFound indicates a device is not on the account.
	ErrNotFound = errors.New("petlibro: device not found")

	// ErrState indicates an operation was attempted without the identifiers
	// it needs (device id, feed id) or with an unknown setting.
	ErrState = errors.New("petlibro: invalid state")
)

// APIError is a non-zero response envelope.
type APIError struct {
	Endpoint string
	Code     int
	Msg      string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("petlibro: %s returned code %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("petlibro: %s returned code %d: %s", e.Endpoint, e.Code, e.Msg)
}

// Is makes errors.Is(err, ErrAPI) match any *APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// StrategyError records one failed attempt in a stop chain.
type StrategyError struct {
	Strategy string
	Err      error
}

// ChainError is returned when every strategy in a StopChain failed.
type ChainError struct {
	DeviceID string
	Attempts []StrategyError
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Strategy+": "+a.Err.Error())
	}
	return fmt.Sprintf("petlibro: all stop strategies failed for %s (%s)", e.DeviceID, strings.Join(parts, "; "))
}

// Unwrap exposes each attempt's error so errors.Is finds ErrAPI/ErrNetwork.
func (e *ChainError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Kind classifies an error for consumers that map failures to codes.
type Kind string

// Error kinds.
const (
	KindNone     Kind = ""
	KindAuth     Kind = "auth"
	KindNetwork  Kind = "network"
	KindAPI      Kind = "api"
	KindNotFound Kind = "not_found"
	KindState    Kind = "state"
	KindUnknown  Kind = "unknown"
)

// KindOf returns the Kind of err. Auth takes precedence over the other
// kinds, then state and not-found, then API, then network.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAPI):
		return KindAPI
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	default:
		return KindUnknown
	}
}

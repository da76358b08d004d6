package petfeeder

import (
	"errors"

	"github.com/nerrad567/gray-logic-petfeeder/internal/feeder"
	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
)

// Domain errors for the feeder bridge.
var (
	// ErrInvalidCommand is returned for a command name the bridge does not
	// know.
	ErrInvalidCommand = errors.New("petfeeder: invalid command")

	// ErrInvalidParameters is returned when a command is missing a
	// parameter or carries one of the wrong type.
	ErrInvalidParameters = errors.New("petfeeder: invalid parameters")
)

// Error codes carried in failed acks.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeNotFound          = "DEVICE_NOT_FOUND"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeDuplicate         = "DUPLICATE_COMMAND"
	ErrCodeVendorError       = "VENDOR_ERROR"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// errorCode maps a command failure to its ack code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters):
		return ErrCodeInvalidParameters
	case errors.Is(err, feeder.ErrDuplicateAction):
		return ErrCodeDuplicate
	}

	switch petlibro.KindOf(err) {
	case petlibro.KindAuth:
		return ErrCodeAuthFailed
	case petlibro.KindNotFound:
		return ErrCodeNotFound
	case petlibro.KindState:
		return ErrCodeInvalidState
	case petlibro.KindAPI:
		return ErrCodeVendorError
	case petlibro.KindNetwork:
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

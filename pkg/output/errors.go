package output

import (
	"errors"

	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/sigv4"
)

// ErrorCode maps an error onto an ErrorRecord code.
func ErrorCode(err error) string {
	var (
		clockErr     *sigv4.ClockError
		transportErr *provider.TransportError
		decodeErr    *provider.DecodeError
		apiErr       *provider.APIError
	)

	switch {
	case err == nil:
		return ""
	case provider.IsCancelled(err):
		return ErrCodeCancelled
	case errors.As(err, &clockErr):
		return ErrCodeClock
	case provider.IsInvalidCredentials(err):
		return ErrCodeCredentials
	case provider.IsAccessDenied(err):
		return ErrCodeAccessDenied
	case provider.IsNotFound(err), provider.IsBucketNotFound(err):
		return ErrCodeNotFound
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case errors.As(err, &transportErr):
		if transportErr.Timeout {
			return ErrCodeTimeout
		}
		return ErrCodeTransport
	case errors.As(err, &decodeErr):
		return ErrCodeDecode
	case errors.As(err, &apiErr):
		return ErrCodeAPI
	default:
		return ErrCodeInternal
	}
}

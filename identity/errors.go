package identity

import (
	"context"
	"errors"
	"fmt"

	msalerrors "github.com/AzureAD/microsoft-authentication-library-for-go/apps/errors"
)

// ErrorType categorises identity failures.
type ErrorType string

const (
	ErrorTypeInteractionRequired ErrorType = "interaction_required"
	ErrorTypeUserCancelled       ErrorType = "user_cancelled"
	ErrorTypeInvalidState        ErrorType = "invalid_state"
	ErrorTypeServer              ErrorType = "server"
	ErrorTypeConfiguration       ErrorType = "configuration"
)

// AuthError is a categorised identity failure.
type AuthError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError of the same type.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewAuthError creates a new AuthError
func NewAuthError(errType ErrorType, message string, err error) *AuthError {
	return &AuthError{Type: errType, Message: message, Err: err}
}

var (
	// ErrInteractionRequired means a token cannot be obtained without the user.
	ErrInteractionRequired = NewAuthError(ErrorTypeInteractionRequired, "interaction required", nil)

	// ErrUserCancelled means the user closed or abandoned an interactive flow.
	ErrUserCancelled = NewAuthError(ErrorTypeUserCancelled, "user cancelled the flow", nil)

	// ErrInvalidState means a redirect response did not match a pending request.
	ErrInvalidState = NewAuthError(ErrorTypeInvalidState, "redirect state mismatch", nil)

	// ErrServer wraps failures reported by the identity provider or the network.
	ErrServer = NewAuthError(ErrorTypeServer, "identity provider request failed", nil)

	// ErrConfiguration means a request was malformed before reaching the provider.
	ErrConfiguration = NewAuthError(ErrorTypeConfiguration, "invalid request", nil)
)

// classifyInteractive maps a failed interactive call onto an AuthError.
func classifyInteractive(message string, err error) *AuthError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewAuthError(ErrorTypeUserCancelled, message, err)
	}
	var callErr msalerrors.CallErr
	if errors.As(err, &callErr) && callErr.Resp != nil {
		return NewAuthError(ErrorTypeServer, fmt.Sprintf("%s (status %d)", message, callErr.Resp.StatusCode), err)
	}
	return NewAuthError(ErrorTypeServer, message, err)
}

// classifySilent maps a failed silent call onto an AuthError. Any silent failure
// needs the user, except cancellation by the caller.
func classifySilent(message string, err error) *AuthError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewAuthError(ErrorTypeUserCancelled, message, err)
	}
	return NewAuthError(ErrorTypeInteractionRequired, message, err)
}

package proxy

import (
	"fmt"
	"strings"
)

// SocketErrorCode classifies setup failures of the proxy sockets.
type SocketErrorCode string

const (
	ErrCodeAddressInUse       SocketErrorCode = "ADDRESS_IN_USE"
	ErrCodePermissionDenied   SocketErrorCode = "PERMISSION_DENIED"
	ErrCodeServiceMissing     SocketErrorCode = "SERVICE_MISSING"
	ErrCodeServiceUnavailable SocketErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeUnknown            SocketErrorCode = "UNKNOWN"
)

// SocketError is a setup failure with enough context for an operator to act on.
type SocketError struct {
	Code      SocketErrorCode
	Component string // "listener" or "service"
	Path      string
	Message   string
	Hint      string
	Solutions []string
	Err       error
}

func (e *SocketError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s socket %s: %s", e.Component, e.Path, e.Message))
	if e.Hint != "" {
		sb.WriteString(fmt.Sprintf("\nHint: %s", e.Hint))
	}
	if len(e.Solutions) > 0 {
		sb.WriteString("\nPossible solutions:")
		for i, solution := range e.Solutions {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, solution))
		}
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf("\nOriginal error: %v", e.Err))
	}
	return sb.String()
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// NewSocketError inspects a listen or dial error and attaches a hint.
func NewSocketError(component, path string, err error) *SocketError {
	if err == nil {
		return nil
	}

	se := &SocketError{
		Component: component,
		Path:      path,
		Err:       err,
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "address already in use"):
		se.Code = ErrCodeAddressInUse
		se.Message = "the path is already bound"
		se.Hint = "a stale socket file or another proxy occupies the path"
		se.Solutions = []string{
			fmt.Sprintf("Check who owns the socket: ss -xlp | grep %s", path),
			fmt.Sprintf("Remove a stale file after making sure nothing listens on it: rm %s", path),
		}

	case strings.Contains(errStr, "permission denied"):
		se.Code = ErrCodePermissionDenied
		se.Message = "permission denied"
		se.Hint = "the socket directory or file is not writable by this user"
		se.Solutions = []string{
			"Run sockspy as the user that owns the service socket",
			fmt.Sprintf("Inspect the permissions: ls -l %s", path),
		}

	case strings.Contains(errStr, "no such file or directory"):
		se.Code = ErrCodeServiceMissing
		se.Message = "the socket does not exist"
		se.Hint = "the service is not running or the socket was removed"
		se.Solutions = []string{
			"Start the service before starting sockspy",
			fmt.Sprintf("Restore a relocated socket by hand: mv %s.original %s", strings.TrimSuffix(path, ".original"), strings.TrimSuffix(path, ".original")),
		}

	case strings.Contains(errStr, "connection refused"):
		se.Code = ErrCodeServiceUnavailable
		se.Message = "the service refused the connection"
		se.Hint = "the socket file exists but nothing accepts on it"
		se.Solutions = []string{
			"Restart the service",
		}

	default:
		se.Code = ErrCodeUnknown
		se.Message = err.Error()
	}

	return se
}

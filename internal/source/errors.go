package source

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

var (
	// ErrSourceUnavailable means the source cannot be reached at all. It is fatal to a sync run.
	ErrSourceUnavailable = errors.New("source: unavailable")
	// ErrTooLarge is returned by FetchContent for files over MaxFileSize.
	ErrTooLarge = errors.New("source: file exceeds size limit")
	// ErrNotFound means a file or folder no longer exists.
	ErrNotFound = errors.New("source: not found")
	// ErrPermissionDenied means the credentials cannot read a file or folder.
	ErrPermissionDenied = errors.New("source: permission denied")
)

// IsRateLimited returns true if the error is a Drive 429 or a rate-limit 403.
func IsRateLimited(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if gerr.Code == http.StatusForbidden {
		for _, e := range gerr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

// wrapDriveError attaches a sentinel to known Drive failures, keeping the original error.
func wrapDriveError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && !IsRateLimited(err) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", op, ErrSourceUnavailable, err)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

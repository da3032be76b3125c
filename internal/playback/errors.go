// ABOUTME: Error types for queue operations
// ABOUTME: Resolution failures and invalid submissions
package playback

import (
	"errors"
	"fmt"
)

// ErrInvalidURL is returned for submissions that are not absolute http(s) URLs
var ErrInvalidURL = errors.New("invalid media url")

// ResolutionError reports that a URL could not be turned into playable media
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("Could not resolve %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidURL          = errors.New("invalid url")
	ErrResolution          = errors.New("resolution failed")
	ErrNetwork             = errors.New("network error")
	ErrUpstreamUnavailable = errors.New("upstream stream unavailable")
	ErrWrite               = errors.New("write error")
	ErrTranscode           = errors.New("transcode failed")
	ErrTranscoderNotFound  = errors.New("transcoder not found")
	ErrPackaging           = errors.New("packaging failed")
	ErrCancelled           = errors.New("cancelled")
)

// Error category names reported by KindOf.
const (
	KindCancelled           = "Cancelled"
	KindInvalidURL          = "InvalidURL"
	KindResolution          = "ResolutionError"
	KindUpstreamUnavailable = "UpstreamUnavailable"
	KindNetwork             = "NetworkError"
	KindWrite               = "WriteError"
	KindTranscoderNotFound  = "TranscoderNotFound"
	KindTranscode           = "TranscodeError"
	KindPackaging           = "PackagingError"
	KindUnknown             = "Unknown"
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrCancelled, KindCancelled},
	{ErrInvalidURL, KindInvalidURL},
	{ErrResolution, KindResolution},
	{ErrUpstreamUnavailable, KindUpstreamUnavailable},
	{ErrNetwork, KindNetwork},
	{ErrWrite, KindWrite},
	{ErrTranscoderNotFound, KindTranscoderNotFound},
	{ErrTranscode, KindTranscode},
	{ErrPackaging, KindPackaging},
}

// KindOf names the error category of err, or "Unknown".
// PackagingError wins over the causes it summarizes.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrPackaging) {
		return KindPackaging
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return KindUnknown
}

// TranscodeFailure is a TranscodeError with the transcoder's diagnostics.
type TranscodeFailure struct {
	Input  string
	Stderr string
	Err    error
}

func (e *TranscodeFailure) Error() string {
	msg := &strings.Builder{}
	_, _ = fmt.Fprintf(msg, "%v: %s", ErrTranscode, e.Input)
	if e.Err != nil {
		_, _ = fmt.Fprintf(msg, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		_, _ = fmt.Fprintf(msg, "\nffmpeg: %s", s)
	}
	return msg.String()
}

func (e *TranscodeFailure) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTranscode}
	}
	return []error{ErrTranscode, e.Err}
}

// Canceled converts a context error into the pipeline taxonomy.
// A deadline becomes timeoutKind, a cancellation becomes ErrCancelled.
func Canceled(ctxErr error, timeoutKind error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out: %w", timeoutKind, ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
}

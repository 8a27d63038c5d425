package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoImageLoaded    = errors.New("no image loaded")
	ErrNothingToExport  = errors.New("nothing to export")
	ErrSafetyRejection  = errors.New("generation blocked for safety reasons")
	ErrTransformFailed  = errors.New("transform failed")
	ErrInvalidSettings  = errors.New("invalid settings")
	ErrNotRunning       = errors.New("orchestrator not running")
	ErrShuttingDown     = errors.New("orchestrator shutting down")
	ErrEmptySourceImage = errors.New("source image is empty")
)

const (
	safetyMessage  = "Generation blocked for safety reasons. Please try a different image or style."
	noImageMessage = "No image was generated. The model may not have been able to apply the style."
)

// failureMessage turns a transform error into the text shown on the job tile.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrSafetyRejection):
		return safetyMessage
	case errors.Is(err, context.DeadlineExceeded):
		return "The style service did not respond in time."
	case errors.Is(err, context.Canceled), errors.Is(err, ErrShuttingDown):
		return "Generation was interrupted."
	}
	msg := strings.TrimPrefix(err.Error(), ErrTransformFailed.Error()+": ")
	if msg != "" {
		return msg
	}
	return "An unknown error occurred."
}

// EmptyOutput is returned by transformers that got a response without an image.
func EmptyOutput() error {
	return fmt.Errorf("%w: %s", ErrTransformFailed, noImageMessage)
}

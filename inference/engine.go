package inference

import (
	"errors"
	"fmt"
)

var ErrNotInitialized = errors.New("model is not loaded")

// LoadError reports a model that could not be turned into a usable handle.
type LoadError struct {
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load model: %s: %v", e.Message, e.Cause)
	}
	return "load model: " + e.Message
}

func (e *LoadError) Unwrap() error { return e.Cause }

func loadErrorf(cause error, format string, args ...interface{}) *LoadError {
	return &LoadError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Shape is the input/output geometry a loaded model declares.
type Shape struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
	Classes  int `json:"classes"`
	// ChannelsFirst is set for [N,C,H,W] inputs; otherwise [N,H,W,C].
	ChannelsFirst bool `json:"channels_first"`
}

func (s Shape) InputSize() int { return s.Width * s.Height * s.Channels }

func (s Shape) String() string {
	layout := "NHWC"
	if s.ChannelsFirst {
		layout = "NCHW"
	}
	return fmt.Sprintf("%dx%dx%d %s -> %d classes", s.Width, s.Height, s.Channels, layout, s.Classes)
}

// Engine loads model bytes into a Handle.
type Engine interface {
	Load(modelBytes []byte) (Handle, error)
}

// Handle is a loaded model. Implementations must be safe for concurrent use;
// Concurrency reports how many Infer calls actually run in parallel.
type Handle interface {
	Shape() Shape
	// Infer runs one synchronous forward pass. The returned scores are owned
	// by the caller.
	Infer(input []float32) ([]float32, error)
	// Release frees the model. It is idempotent and waits for a running Infer.
	Release() error
	Concurrency() int
}

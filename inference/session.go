package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session is one ONNX Runtime session with its bound input and output
// tensors. The tensors are reused across calls, so Infer is serialized.
type Session struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	shape    Shape
	released bool
}

func newSession(modelBytes []byte, layout ioLayout, options *ort.SessionOptions) (*Session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](layout.inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](layout.outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelBytes,
		[]string{layout.inputName},
		[]string{layout.outputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &Session{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		shape:   layout.shape,
	}, nil
}

func (s *Session) Shape() Shape { return s.shape }

func (s *Session) Concurrency() int { return 1 }

func (s *Session) Infer(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrNotInitialized
	}
	if want := s.shape.InputSize(); len(input) != want {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), want)
	}

	copy(s.input.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	scores := make([]float32, s.shape.Classes)
	copy(scores, s.output.GetData())
	return scores, nil
}

func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	if s.input != nil {
		errs = append(errs, s.input.Destroy())
	}
	if s.output != nil {
		errs = append(errs, s.output.Destroy())
	}
	return errors.Join(errs...)
}

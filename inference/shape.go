package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const expectedChannels = 3

// ioLayout is what a session needs to bind its tensors.
type ioLayout struct {
	shape       Shape
	inputName   string
	outputName  string
	inputShape  ort.Shape
	outputShape ort.Shape
}

// parseIO validates a single-input, single-output image classifier and reads
// its geometry. A dynamic batch dimension is pinned to 1.
func parseIO(inputs, outputs []ort.InputOutputInfo) (ioLayout, error) {
	if len(inputs) != 1 || len(outputs) != 1 {
		return ioLayout{}, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]

	if in.OrtValueType != ort.ONNXTypeTensor || in.DataType != ort.TensorElementDataTypeFloat {
		return ioLayout{}, fmt.Errorf("input %q must be a float tensor", in.Name)
	}
	if out.OrtValueType != ort.ONNXTypeTensor || out.DataType != ort.TensorElementDataTypeFloat {
		return ioLayout{}, fmt.Errorf("output %q must be a float tensor", out.Name)
	}

	dims := in.Dimensions
	if len(dims) != 4 {
		return ioLayout{}, fmt.Errorf("expected 4D input, got %dD", len(dims))
	}
	if dims[0] != 1 && dims[0] != -1 {
		return ioLayout{}, fmt.Errorf("input batch size %d not supported", dims[0])
	}

	var shape Shape
	switch {
	case dims[3] == expectedChannels:
		shape = Shape{Height: int(dims[1]), Width: int(dims[2]), Channels: int(dims[3])}
	case dims[1] == expectedChannels:
		shape = Shape{Height: int(dims[2]), Width: int(dims[3]), Channels: int(dims[1]), ChannelsFirst: true}
	default:
		return ioLayout{}, fmt.Errorf("input %v has no RGB channel dimension", dims)
	}
	if shape.Width <= 0 || shape.Height <= 0 {
		return ioLayout{}, fmt.Errorf("input %v has dynamic spatial dimensions", dims)
	}

	classes, err := classCount(out.Dimensions)
	if err != nil {
		return ioLayout{}, err
	}
	shape.Classes = classes

	inputShape := ort.NewShape(1, dims[1], dims[2], dims[3])
	outputShape := ort.NewShape(1, int64(classes))
	if len(out.Dimensions) == 1 {
		outputShape = ort.NewShape(int64(classes))
	}

	return ioLayout{
		shape:       shape,
		inputName:   in.Name,
		outputName:  out.Name,
		inputShape:  inputShape,
		outputShape: outputShape,
	}, nil
}

// classCount accepts [N] or [batch, N].
func classCount(dims ort.Shape) (int, error) {
	switch len(dims) {
	case 1:
		if dims[0] > 0 {
			return int(dims[0]), nil
		}
	case 2:
		if (dims[0] == 1 || dims[0] == -1) && dims[1] > 0 {
			return int(dims[1]), nil
		}
	}
	return 0, fmt.Errorf("output %v is not a score vector", dims)
}

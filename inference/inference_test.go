package inference

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func tensorInfo(name string, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{
		Name:         name,
		OrtValueType: ort.ONNXTypeTensor,
		Dimensions:   ort.NewShape(dims...),
		DataType:     ort.TensorElementDataTypeFloat,
	}
}

func TestParseIO(t *testing.T) {
	tests := []struct {
		name    string
		input   ort.InputOutputInfo
		output  ort.InputOutputInfo
		want    Shape
		wantErr bool
	}{
		{
			name:   "nhwc",
			input:  tensorInfo("input_1", 1, 256, 224, 3),
			output: tensorInfo("dense", 1, 15),
			want:   Shape{Width: 224, Height: 256, Channels: 3, Classes: 15},
		},
		{
			name:   "nchw dynamic batch",
			input:  tensorInfo("images", -1, 3, 128, 160),
			output: tensorInfo("output0", -1, 4),
			want:   Shape{Width: 160, Height: 128, Channels: 3, Classes: 4, ChannelsFirst: true},
		},
		{
			name:   "flat output",
			input:  tensorInfo("x", 1, 32, 32, 3),
			output: tensorInfo("y", 10),
			want:   Shape{Width: 32, Height: 32, Channels: 3, Classes: 10},
		},
		{
			name:    "grayscale",
			input:   tensorInfo("x", 1, 28, 28, 1),
			output:  tensorInfo("y", 1, 10),
			wantErr: true,
		},
		{
			name:    "dynamic spatial",
			input:   tensorInfo("x", 1, -1, -1, 3),
			output:  tensorInfo("y", 1, 10),
			wantErr: true,
		},
		{
			name:    "batch of eight",
			input:   tensorInfo("x", 8, 32, 32, 3),
			output:  tensorInfo("y", 8, 10),
			wantErr: true,
		},
		{
			name:    "rank three",
			input:   tensorInfo("x", 32, 32, 3),
			output:  tensorInfo("y", 1, 10),
			wantErr: true,
		},
		{
			name:    "detection output",
			input:   tensorInfo("x", 1, 3, 640, 640),
			output:  tensorInfo("y", 1, 5, 8400),
			wantErr: true,
		},
		{
			name: "int input",
			input: ort.InputOutputInfo{
				Name:         "x",
				OrtValueType: ort.ONNXTypeTensor,
				Dimensions:   ort.NewShape(1, 32, 32, 3),
				DataType:     ort.TensorElementDataTypeUint8,
			},
			output:  tensorInfo("y", 1, 10),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := parseIO([]ort.InputOutputInfo{tt.input}, []ort.InputOutputInfo{tt.output})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, layout.shape)
			assert.Equal(t, tt.input.Name, layout.inputName)
			assert.Equal(t, tt.output.Name, layout.outputName)
			assert.Equal(t, int64(1), layout.inputShape[0])
			assert.Equal(t, int64(tt.want.Classes), layout.outputShape.FlattenedSize())
		})
	}
}

func TestParseIO_MultipleInputs(t *testing.T) {
	_, err := parseIO(
		[]ort.InputOutputInfo{tensorInfo("a", 1, 8, 8, 3), tensorInfo("b", 1, 8, 8, 3)},
		[]ort.InputOutputInfo{tensorInfo("y", 1, 2)},
	)
	assert.Error(t, err)
}

func TestLoadError(t *testing.T) {
	cause := errors.New("protobuf parsing failed")
	err := error(loadErrorf(cause, "malformed model"))

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "load model: malformed model: protobuf parsing failed", err.Error())
	assert.Equal(t, "load model: model is empty", loadErrorf(nil, "model is empty").Error())
}

func TestONNXEngine_EmptyModel(t *testing.T) {
	_, err := NewONNXEngine(ONNXConfig{}, nil).Load(nil)

	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestSession_ReleasedState(t *testing.T) {
	s := &Session{shape: Shape{Width: 1, Height: 1, Channels: 3, Classes: 2}}
	require.NoError(t, s.Release())
	require.NoError(t, s.Release())

	_, err := s.Infer([]float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

type fakeHandle struct {
	shape    Shape
	delay    time.Duration
	running  *atomic.Int32
	peak     *atomic.Int32
	entered  chan struct{}
	released atomic.Bool
}

func (f *fakeHandle) Shape() Shape { return f.shape }

func (f *fakeHandle) Concurrency() int { return 1 }

func (f *fakeHandle) Release() error {
	f.released.Store(true)
	return nil
}

func (f *fakeHandle) Infer(input []float32) ([]float32, error) {
	if f.released.Load() {
		return nil, ErrNotInitialized
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return []float32{input[0], 1 - input[0]}, nil
}

func newFakes(n int, shape Shape, delay time.Duration) ([]Handle, *atomic.Int32) {
	running, peak := &atomic.Int32{}, &atomic.Int32{}
	handles := make([]Handle, n)
	for i := range handles {
		handles[i] = &fakeHandle{shape: shape, delay: delay, running: running, peak: peak}
	}
	return handles, peak
}

func TestSessionPool_ParallelInfer(t *testing.T) {
	shape := Shape{Width: 1, Height: 1, Channels: 3, Classes: 2}
	handles, peak := newFakes(3, shape, 20*time.Millisecond)
	pool, err := NewSessionPool(handles)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Concurrency())
	assert.Equal(t, shape, pool.Shape())

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scores, err := pool.Infer([]float32{0.25, 0, 0})
			assert.NoError(t, err)
			assert.Equal(t, []float32{0.25, 0.75}, scores)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	stats := pool.GetMetrics()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, int64(9), stats.TotalAcquired)
	assert.Equal(t, int64(9), stats.TotalReleased)
}

func TestSessionPool_ReleaseWaitsForInFlight(t *testing.T) {
	shape := Shape{Width: 1, Height: 1, Channels: 3, Classes: 2}
	handles, _ := newFakes(1, shape, 50*time.Millisecond)
	pool, err := NewSessionPool(handles)
	require.NoError(t, err)

	entered := make(chan struct{}, 1)
	handles[0].(*fakeHandle).entered = entered
	result := make(chan error, 1)
	go func() {
		_, err := pool.Infer([]float32{0.5, 0, 0})
		result <- err
	}()
	<-entered

	require.NoError(t, pool.Release())
	assert.NoError(t, <-result)
	assert.True(t, handles[0].(*fakeHandle).released.Load())

	_, err = pool.Infer([]float32{0.5, 0, 0})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, pool.Release())
}

func TestSessionPool_Validation(t *testing.T) {
	_, err := NewSessionPool(nil)
	assert.Error(t, err)

	a, _ := newFakes(1, Shape{Width: 2, Height: 2, Channels: 3, Classes: 2}, 0)
	b, _ := newFakes(1, Shape{Width: 4, Height: 4, Channels: 3, Classes: 2}, 0)
	_, err = NewSessionPool(append(a, b...))
	assert.Error(t, err)
}

func TestShapeString(t *testing.T) {
	s := Shape{Width: 256, Height: 256, Channels: 3, Classes: 15}
	assert.Equal(t, 196608, s.InputSize())
	assert.Equal(t, "256x256x3 NHWC -> 15 classes", s.String())
}

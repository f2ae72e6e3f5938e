package preprocess

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
)

const Channels = 3

// minParallelPixels is the resized area below which rows are converted on
// the calling goroutine.
const minParallelPixels = 64 * 64

var (
	ErrEmptyImage  = errors.New("image has no pixels")
	ErrInvalidSize = errors.New("target size must be positive")
)

// Layout is the order of values in an encoded buffer.
type Layout int

const (
	// Interleaved stores R,G,B per pixel, pixels row-major (NHWC).
	Interleaved Layout = iota
	// Planar stores a full R plane, then G, then B (NCHW).
	Planar
)

func (l Layout) String() string {
	switch l {
	case Interleaved:
		return "interleaved"
	case Planar:
		return "planar"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// Encoder turns decoded images into normalized float buffers sized for a
// model input. It is safe for concurrent use.
type Encoder struct {
	resampler  Resampler
	layout     Layout
	numWorkers int

	mu    sync.Mutex
	pools map[int]*sync.Pool
}

type Option func(*Encoder)

func WithResampler(r Resampler) Option {
	return func(e *Encoder) {
		if r != nil {
			e.resampler = r
		}
	}
}

func WithLayout(l Layout) Option {
	return func(e *Encoder) { e.layout = l }
}

func WithWorkers(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.numWorkers = n
		}
	}
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		resampler:  DefaultResampler(),
		layout:     Interleaved,
		numWorkers: runtime.GOMAXPROCS(0),
		pools:      make(map[int]*sync.Pool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Layout() Layout { return e.layout }

// Encode resamples img to exactly width x height, ignoring aspect ratio, and
// returns width*height*3 values in [0,1]. Pixels are visited row-major,
// left-to-right, top-to-bottom.
func (e *Encoder) Encode(img image.Image, width, height int) ([]float32, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	resized := e.resampler.Resize(img, width, height)
	if b := resized.Bounds(); b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("resampler returned %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}

	buffer := e.getBuffer(width * height * Channels)
	e.processParallel(resized, buffer)
	return buffer, nil
}

// Recycle hands a buffer returned by Encode back for reuse. The caller must
// not touch it afterwards.
func (e *Encoder) Recycle(buffer []float32) {
	e.mu.Lock()
	pool, ok := e.pools[cap(buffer)]
	e.mu.Unlock()
	if !ok {
		return
	}
	buffer = buffer[:cap(buffer)]
	pool.Put(&buffer)
}

// Reset drops every pooled buffer.
func (e *Encoder) Reset() {
	e.mu.Lock()
	e.pools = make(map[int]*sync.Pool)
	e.mu.Unlock()
}

func (e *Encoder) getBuffer(size int) []float32 {
	e.mu.Lock()
	pool, ok := e.pools[size]
	if !ok {
		pool = &sync.Pool{
			New: func() interface{} {
				buf := make([]float32, size)
				return &buf
			},
		}
		e.pools[size] = pool
	}
	e.mu.Unlock()

	return *(pool.Get().(*[]float32))
}

func (e *Encoder) processParallel(img *image.NRGBA, buffer []float32) {
	height := img.Bounds().Dy()
	numWorkers := e.numWorkers
	if img.Bounds().Dx()*height < minParallelPixels {
		numWorkers = 1
	}
	numWorkers = min(numWorkers, height)
	if numWorkers <= 1 {
		e.processRows(img, buffer, 0, height)
		return
	}

	rowsPerWorker := height / numWorkers
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			e.processRows(img, buffer, start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}

// processRows reads the non-premultiplied bytes directly; alpha is ignored.
func (e *Encoder) processRows(img *image.NRGBA, buffer []float32, startRow, endRow int) {
	b := img.Bounds()
	width := b.Dx()
	channelSize := width * b.Dy()

	for y := startRow; y < endRow; y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < width; x++ {
			i := y*width + x
			r := float32(img.Pix[src]) / 255.0
			g := float32(img.Pix[src+1]) / 255.0
			bl := float32(img.Pix[src+2]) / 255.0
			src += 4

			switch e.layout {
			case Planar:
				buffer[i] = r
				buffer[channelSize+i] = g
				buffer[channelSize*2+i] = bl
			default:
				buffer[i*Channels] = r
				buffer[i*Channels+1] = g
				buffer[i*Channels+2] = bl
			}
		}
	}
}

package inference

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig controls the ONNX Runtime engine.
type ONNXConfig struct {
	// SharedLibraryPath points at libonnxruntime; empty uses the loader default.
	SharedLibraryPath string
	// Sessions above 1 load a SessionPool.
	Sessions       int
	IntraOpThreads int
	InterOpThreads int
}

type ONNXEngine struct {
	cfg    ONNXConfig
	logger *log.Entry
}

func NewONNXEngine(cfg ONNXConfig, logger *log.Entry) *ONNXEngine {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &ONNXEngine{cfg: cfg, logger: logger.WithField("engine", "onnxruntime")}
}

var runtimeMu sync.Mutex

// InitRuntime initializes the process-wide ONNX Runtime environment once.
func InitRuntime(sharedLibraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime tears the environment down. Every handle must be released
// first.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func (e *ONNXEngine) Load(modelBytes []byte) (Handle, error) {
	if len(modelBytes) == 0 {
		return nil, loadErrorf(nil, "model is empty")
	}
	if err := InitRuntime(e.cfg.SharedLibraryPath); err != nil {
		return nil, loadErrorf(err, "runtime unavailable")
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(modelBytes)
	if err != nil {
		return nil, loadErrorf(err, "malformed model")
	}
	layout, err := parseIO(inputs, outputs)
	if err != nil {
		return nil, loadErrorf(err, "unsupported model")
	}

	options, err := e.sessionOptions()
	if err != nil {
		return nil, loadErrorf(err, "session options")
	}
	defer options.Destroy()

	sessions := max(e.cfg.Sessions, 1)
	handles := make([]Handle, 0, sessions)
	for i := 0; i < sessions; i++ {
		session, err := newSession(modelBytes, layout, options)
		if err != nil {
			releaseAll(handles)
			return nil, loadErrorf(err, "failed to initialize session %d", i)
		}
		handles = append(handles, session)
	}

	e.logger.WithFields(log.Fields{
		"input":    layout.inputName,
		"output":   layout.outputName,
		"shape":    layout.shape.String(),
		"sessions": sessions,
	}).Info("Model loaded")

	if sessions == 1 {
		return handles[0], nil
	}
	pool, err := NewSessionPool(handles)
	if err != nil {
		releaseAll(handles)
		return nil, loadErrorf(err, "session pool")
	}
	return pool, nil
}

func (e *ONNXEngine) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}

	intra := e.cfg.IntraOpThreads
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	inter := e.cfg.InterOpThreads
	if inter <= 0 {
		inter = runtime.NumCPU()
	}
	if err := errors.Join(options.SetIntraOpNumThreads(intra), options.SetInterOpNumThreads(inter)); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func releaseAll(handles []Handle) {
	for _, h := range handles {
		h.Release()
	}
}

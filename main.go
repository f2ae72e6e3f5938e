package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"github.com/Tutortoise/leafdx/bridge"
	"github.com/Tutortoise/leafdx/classifier"
	"github.com/Tutortoise/leafdx/config"
	"github.com/Tutortoise/leafdx/inference"
	"github.com/Tutortoise/leafdx/models"
	"github.com/Tutortoise/leafdx/preprocess"
)

// DecodeError reports an image file that could not be read as a picture.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return img, nil
}

func setupLogger(cfg *config.Config) *log.Entry {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return log.NewEntry(logger)
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		modelPath  = flag.String("model", "", "model file, overrides the config")
		labelsPath = flag.String("labels", "", "label file with one class name per line")
		debug      = flag.Bool("debug", false, "enable debug logging and per-image timings")
		serve      = flag.Bool("serve", false, "keep the monitoring server up until interrupted")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *labelsPath != "" {
		cfg.LabelsPath = *labelsPath
	}
	if *debug {
		cfg.Debug = true
	}
	logger := setupLogger(cfg)

	if flag.NArg() == 0 && !*serve {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := inference.NewONNXEngine(inference.ONNXConfig{
		SharedLibraryPath: cfg.SharedLibraryPath,
		Sessions:          cfg.Sessions,
		IntraOpThreads:    cfg.IntraOpThreads,
		InterOpThreads:    cfg.InterOpThreads,
	}, logger)

	err = run(ctx, cfg, engine, flag.Args(), *serve, os.Stdout, logger)
	if shutdownErr := inference.ShutdownRuntime(); shutdownErr != nil {
		logger.WithError(shutdownErr).Warn("Failed to destroy ONNX environment")
	}
	if err != nil {
		logger.WithError(err).Fatal("Classification failed")
	}
}

func run(ctx context.Context, cfg *config.Config, engine inference.Engine, paths []string, serve bool, out io.Writer, logger *log.Entry) error {
	model, err := openModelFile(cfg.ModelPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			logger.WithError(err).Warn("Failed to unmap model")
		}
	}()

	resampler, err := preprocess.NewResampler(cfg.Resampler, cfg.Filter)
	if err != nil {
		return err
	}
	executor := bridge.NewExecutor(cfg.Workers, logger)
	defer executor.Close()

	opts := []classifier.Option{
		classifier.WithResampler(resampler),
		classifier.WithTopK(cfg.TopK),
		classifier.WithExecutor(executor),
		classifier.WithLogger(logger),
	}
	if cfg.LabelsPath != "" {
		labels, err := models.LoadLabels(cfg.LabelsPath)
		if err != nil {
			return err
		}
		opts = append(opts, classifier.WithLabels(labels))
	}

	svc := classifier.New(engine, classifier.BytesSource(model.Bytes()), opts...)
	defer svc.Shutdown()

	if cfg.MonitorAddr != "" {
		srv := startMonitor(cfg.MonitorAddr, newMonitorRouter(svc, logger), logger)
		defer srv.Close()
	}

	initCtx, cancel := context.WithTimeout(ctx, cfg.InitTimeout)
	defer cancel()
	if _, err := svc.Initialize(initCtx).Await(initCtx); err != nil {
		return fmt.Errorf("initialize classifier: %w", err)
	}

	if failed := classifyAll(ctx, svc, paths, cfg.TopK, out, logger); failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}

	if serve {
		logger.WithField("addr", cfg.MonitorAddr).Info("Serving until interrupted")
		<-ctx.Done()
	}
	return nil
}

type pending struct {
	path   string
	future *bridge.Future[models.ClassificationResult]
}

// classifyAll submits every decodable image before awaiting any result and
// prints results in argument order. It returns the number of failures.
func classifyAll(ctx context.Context, svc *classifier.Service, paths []string, topK int, out io.Writer, logger *log.Entry) int {
	failed := 0
	queue := make([]pending, 0, len(paths))
	for _, path := range paths {
		img, err := decodeImage(path)
		if err != nil {
			failed++
			logger.WithError(err).Error("Failed to decode image")
			fmt.Fprintf(out, "== %s\nerror: %v\n\n", path, err)
			continue
		}
		queue = append(queue, pending{path: path, future: svc.Classify(img)})
	}

	for _, p := range queue {
		result, err := p.future.Await(ctx)
		if err != nil {
			failed++
			if errors.Is(err, classifier.ErrNotInitialized) {
				logger.Error(MsgNotReady)
			}
			logger.WithError(err).WithField("path", p.path).Error("Error classifying image")
			fmt.Fprintf(out, "== %s\nerror: %v\n\n", p.path, err)
			continue
		}
		printResult(out, p.path, result, topK)
	}
	return failed
}

func printResult(w io.Writer, path string, result models.ClassificationResult, topK int) {
	fmt.Fprintf(w, "== %s\n%s\n", path, result)
	if topK > 1 {
		for i, ls := range result.Top {
			fmt.Fprintf(w, "  %d. %-45s %6.2f%%\n", i+1, ls.Label, float64(ls.Score)*100)
		}
	}
	fmt.Fprintf(w, "%s\n\n", adviceMessage(result))
}

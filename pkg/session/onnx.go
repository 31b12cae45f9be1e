package session

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"hipposeg/internal/models"
	"hipposeg/pkg/volume"
)

// Options tunes how ONNX Runtime sessions are created.
type Options struct {
	// Providers lists execution providers in preference order.
	// Recognized values: "cuda", "cpu". An empty list means CPU.
	Providers []string

	// IntraOpThreads bounds per-session operator parallelism
	// (0 = runtime default).
	IntraOpThreads int

	// LibraryPath optionally points at the onnxruntime shared library
	// when it is not on the default search path.
	LibraryPath string
}

var (
	initOnce sync.Once
	initErr  error
)

// initRuntime brings up the process-wide ONNX Runtime environment.
func initRuntime(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// LoadPool loads every model artifact into a Session, in the given
// order. The pool must be non-empty; discovery enforces that before
// load is attempted.
func LoadPool(paths []string, opts Options) ([]Session, error) {
	if len(paths) == 0 {
		return nil, ErrNoModels
	}
	if err := initRuntime(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	pool := make([]Session, 0, len(paths))
	for _, path := range paths {
		s, err := loadSession(path, opts)
		if err != nil {
			ClosePool(pool)
			return nil, fmt.Errorf("loading model %s: %w", path, err)
		}
		pool = append(pool, s)
	}
	return pool, nil
}

// onnxSession wraps one ONNX Runtime session. A mutex serializes Run so
// one model handle is never invoked concurrently; parallelism across the
// ensemble comes from running distinct sessions side by side.
type onnxSession struct {
	path       string
	inputName  string
	outputName string
	mu         sync.Mutex
	sess       *ort.DynamicAdvancedSession
}

func loadSession(path string, opts Options) (*onnxSession, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("reading model signature: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("model must have exactly one input and one output, has %d/%d",
			len(inputs), len(outputs))
	}

	so, err := sessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer so.Destroy()

	sess, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, so)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &onnxSession{
		path:       path,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		sess:       sess,
	}, nil
}

func sessionOptions(opts Options) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("setting intra-op threads: %w", err)
		}
	}
	for _, provider := range opts.Providers {
		switch provider {
		case "cpu", "":
			// CPU is the built-in fallback; nothing to append.
		case "cuda":
			cudaOpts, err := ort.NewCUDAProviderOptions()
			if err != nil {
				so.Destroy()
				return nil, fmt.Errorf("creating CUDA provider options: %w", err)
			}
			appendErr := so.AppendExecutionProviderCUDA(cudaOpts)
			cudaOpts.Destroy()
			if appendErr != nil {
				so.Destroy()
				return nil, fmt.Errorf("enabling CUDA provider: %w", appendErr)
			}
		default:
			so.Destroy()
			return nil, fmt.Errorf("unknown execution provider %q (want \"cpu\" or \"cuda\")", provider)
		}
	}
	return so, nil
}

// Run implements Session.
func (s *onnxSession) Run(in *volume.Volume) (*volume.Volume, error) {
	shape := ort.NewShape(1, int64(in.Channels), int64(in.Nx), int64(in.Ny), int64(in.Nz))
	input, err := ort.NewTensor(shape, in.Data)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}

	s.mu.Lock()
	err = s.sess.Run([]ort.Value{input}, outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", s.path, err)
	}

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		outputs[0].Destroy()
		return nil, fmt.Errorf("model %s produced a non-float32 output", s.path)
	}
	defer tensor.Destroy()

	dims := tensor.GetShape()
	if len(dims) != 5 || dims[0] != 1 ||
		dims[1] != int64(models.NumRawChannels) ||
		dims[2] != int64(in.Nx) || dims[3] != int64(in.Ny) || dims[4] != int64(in.Nz) {
		return nil, fmt.Errorf("model %s output shape %v does not match declared (1,%d,%d,%d,%d)",
			s.path, dims, models.NumRawChannels, in.Nx, in.Ny, in.Nz)
	}

	logits := volume.New(models.NumRawChannels, in.Nx, in.Ny, in.Nz, in.Affine)
	copy(logits.Data, tensor.GetData())
	return logits, nil
}

// Source implements Session.
func (s *onnxSession) Source() string { return s.path }

// Close implements Session.
func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.Destroy()
		s.sess = nil
	}
	return nil
}

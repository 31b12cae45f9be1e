package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"hipposeg/internal/models"
	"hipposeg/pkg/augment"
	"hipposeg/pkg/config"
	"hipposeg/pkg/ensemble"
	"hipposeg/pkg/nifti"
	"hipposeg/pkg/output"
	"hipposeg/pkg/preprocess"
	"hipposeg/pkg/remap"
	"hipposeg/pkg/session"
	"hipposeg/pkg/volume"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	inputPath := flag.String("input", "", "Input MRI scan (.nii or .nii.gz); additional scans may follow as arguments")
	modelsDir := flag.String("models", "", "Directory containing ONNX models (overrides config)")
	caMode := flag.String("ca-mode", "", "Cornu ammonis grouping: 1/2/3, 1/23 or 123 (overrides config)")
	suffix := flag.String("suffix", "", "Output filename suffix (overrides config)")
	flag.Parse()

	// Collect input scans
	scans := flag.Args()
	if *inputPath != "" {
		scans = append([]string{*inputPath}, scans...)
	}
	if len(scans) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	fmt.Println("================================")
	fmt.Println("HIPPOSEG - HIPPOCAMPAL SUBFIELD SEGMENTATION")
	fmt.Println("Multi-model ensemble ONNX inference with test-time augmentation")
	fmt.Println("================================")

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	// Load configuration and apply flag overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *modelsDir != "" {
		cfg.Engine.ModelsDir = *modelsDir
	}
	if *caMode != "" {
		cfg.CAMode = *caMode
	}
	if *suffix != "" {
		cfg.Output.Suffix = *suffix
	}

	// Configuration errors abort before any model is loaded.
	if err := remap.Validate(cfg.CAMode); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Discover and load the model pool; an empty pool is a hard error.
	paths, err := session.Discover(cfg.Engine.ModelsDir)
	if err != nil {
		log.Fatalf("Model discovery failed: %v", err)
	}
	log.Infof("Loading %d models from %s", len(paths), cfg.Engine.ModelsDir)
	pool, err := session.LoadPool(paths, session.Options{
		Providers:      cfg.Engine.ExecutionProviders,
		IntraOpThreads: cfg.Engine.IntraOpThreads,
		LibraryPath:    cfg.Engine.LibraryPath,
	})
	if err != nil {
		log.Fatalf("Failed to load models: %v", err)
	}
	defer session.ClosePool(pool)

	// Process each scan in isolation: one failing scan must not take
	// the rest of the batch down with it.
	failures := 0
	for _, scan := range scans {
		start := time.Now()
		if err := processScan(scan, cfg, pool, log); err != nil {
			log.Errorf("Segmentation of %s failed: %v", scan, err)
			failures++
			continue
		}
		log.Infof("Segmented %s in %.2f seconds", scan, time.Since(start).Seconds())
	}
	if failures > 0 {
		log.Errorf("%d of %d scans failed", failures, len(scans))
		os.Exit(1)
	}
}

// processScan runs the full pipeline for one scan: load, preprocess,
// ensemble inference, inverse-space mapping and output writing.
func processScan(scanPath string, cfg *config.Config, pool []session.Session, log *zap.SugaredLogger) error {
	raw, err := nifti.Load(scanPath)
	if err != nil {
		return fmt.Errorf("loading scan: %w", err)
	}

	subject, err := preprocess.Run(raw)
	if err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}
	shape := subject.Primary().SpatialShape()
	log.Infof("Preprocessed %s: shape (%d,%d,%d) -> (%d,%d,%d)",
		scanPath, raw.Nx, raw.Ny, raw.Nz, shape[0], shape[1], shape[2])

	gen, err := augment.NewGenerator(cfg.Augmentation, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return fmt.Errorf("augmentation configuration: %w", err)
	}

	numAug := 1
	if cfg.Segmentation.TestTimeAugmentation {
		numAug = cfg.Segmentation.TestTimeNumAug
	}
	total := numAug * len(pool)
	done := 0
	log.Infof("Segmenting (TTA: %d | %d models)...", numAug, len(pool))

	result, err := ensemble.Segment(subject, gen, pool, ensemble.Config{
		TestTimeAugmentation: cfg.Segmentation.TestTimeAugmentation,
		NumAug:               cfg.Segmentation.TestTimeNumAug,
		CAMode:               cfg.CAMode,
		Workers:              cfg.Processing.Workers,
		Progress: func(aug, model int) {
			done++
			log.Infof("Completed run %d/%d (augmentation %d, model %s)", done, total, aug, pool[model].Source())
		},
		Warn: func(msg string) {
			log.Warnf("Inverse mapping: %s", msg)
		},
	})
	if err != nil {
		return fmt.Errorf("ensemble inference: %w", err)
	}

	outPath, label, err := output.SavePrediction(scanPath, raw, result.Hard, cfg.Output.Suffix)
	if err != nil {
		return fmt.Errorf("writing segmentation: %w", err)
	}
	log.Infof("Segmentation saved to %s", outPath)

	reportLabelStats(label, cfg.CAMode, log)
	return nil
}

// reportLabelStats logs the voxel count of each subfield class in the
// written segmentation.
func reportLabelStats(label *volume.Volume, caMode string, log *zap.SugaredLogger) {
	names := models.ClassNames(caMode)
	counts := make([]int, len(names))
	for _, v := range label.Data {
		c := int(v)
		if c >= 0 && c < len(counts) {
			counts[c]++
		}
	}
	for c, name := range names {
		log.Infof("  %-14s %8d voxels", name, counts[c])
	}
}

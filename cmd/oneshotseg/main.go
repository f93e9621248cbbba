package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"oneshotseg/pkg/config"
	"oneshotseg/pkg/logging"
	"oneshotseg/pkg/metrics"
	"oneshotseg/pkg/sampling"
	"oneshotseg/pkg/segmentation"
	"oneshotseg/pkg/visualization"
	"oneshotseg/pkg/volumeio"
)

func main() {
	// Parse command line arguments
	imageDir := flag.String("image", "", "Directory containing the intensity slices")
	labelsDir := flag.String("labels", "", "Directory containing the label slices")
	modelPath := flag.String("model", "", "File to save the trained model to (skipped when empty)")
	outputDir := flag.String("output", "segmentation_output", "Directory for probability and mask slices")
	threshold := flag.Int("threshold", -1, "Mask threshold 0-255 (default: from config, 125)")
	configPath := flag.String("config", "", "YAML configuration file")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from config, all available)")
	format := flag.String("format", "", "Output slice format: png or tiff (default: from config)")
	initConfig := flag.String("init-config", "", "Write a default configuration file to this path and exit")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create config file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	// Validate inputs
	if *imageDir == "" || *labelsDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, *threshold, *numCores, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.Output.LogLevel)
	logger := logging.NewConsole(level)

	if err := run(cfg, logger, *imageDir, *labelsDir, *modelPath, *outputDir); err != nil {
		if errors.Is(err, sampling.ErrValidation) {
			fmt.Fprintf(os.Stderr, "Invalid labels: %v\n", err)
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("segmentation failed")
	}
}

// loadConfig reads the configuration file and applies command line
// overrides on top of it
func loadConfig(path string, threshold, numCores int, format string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if threshold >= 0 {
		cfg.Segmentation.Threshold = threshold
	}
	if numCores > 0 {
		cfg.Processing.NumCores = numCores
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, logger zerolog.Logger, imageDir, labelsDir, modelPath, outputDir string) error {
	fmt.Println("================================")
	fmt.Println("ONE-SHOT INTERACTIVE VOLUME SEGMENTATION")
	fmt.Println("================================")

	// Step 1: Load the volume and the annotations
	fmt.Println("Step 1: Loading volume and labels...")
	vol, err := volumeio.LoadVolume(imageDir)
	if err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}
	labels, err := volumeio.LoadLabels(labelsDir)
	if err != nil {
		return fmt.Errorf("failed to load labels: %w", err)
	}
	fmt.Printf("Loaded volume %s with shape %s\n", vol.ID, vol.Shape)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	session := segmentation.NewSession(cfg.SessionParams(),
		segmentation.WithLogger(logger),
		segmentation.WithMetrics(m),
	)
	session.LoadVolume(vol)

	// Step 2: Features, training and inference
	fmt.Println("Step 2: Computing features, training and predicting...")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime := time.Now()
	task := session.Start(ctx, labels, modelPath)
	lastStage := segmentation.Stage("")
	for p := range task.Progress() {
		if p.Stage != lastStage {
			fmt.Printf("- %s\n", p.Stage)
			lastStage = p.Stage
		}
	}
	probs, err := task.Wait()
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	// Step 3: Threshold and write results
	fmt.Println("Step 3: Writing probability and mask slices...")
	mask, err := session.Threshold(uint8(cfg.Segmentation.Threshold))
	if err != nil {
		return err
	}

	probDir := filepath.Join(outputDir, "probabilities")
	if err := visualization.NewViewer(probs.Data, probs.Shape).SaveSliceSequence("z", probDir, cfg.Output.Format); err != nil {
		return fmt.Errorf("failed to save probabilities: %w", err)
	}
	maskDir := filepath.Join(outputDir, "mask")
	if err := visualization.NewViewer(mask.Data, mask.Shape).SaveSliceSequence("z", maskDir, cfg.Output.Format); err != nil {
		return fmt.Errorf("failed to save mask: %w", err)
	}

	metricsPath := filepath.Join(outputDir, "metrics.prom")
	if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
		logger.Warn().Err(err).Msg("failed to write metrics")
	}

	foreground := 0
	for _, v := range mask.Data {
		if v != 0 {
			foreground++
		}
	}

	fmt.Printf("\nSegmentation completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Probability slices saved to: %s\n", probDir)
	fmt.Printf("Mask slices saved to: %s\n", maskDir)
	if modelPath != "" {
		fmt.Printf("Model saved to: %s\n", modelPath)
	}
	fmt.Printf("\nThreshold: %d\n", cfg.Segmentation.Threshold)
	fmt.Printf("Foreground voxels: %d of %d (%.2f%%)\n",
		foreground, len(mask.Data), 100*float64(foreground)/float64(len(mask.Data)))
	fmt.Printf("Used %d cores for processing\n", cfg.Processing.NumCores)

	if cfg.Output.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", cfg.Output.IntermediaryDir)
	}
	return nil
}

// Command pdf2img converts a PDF into numbered JPEG files, one per page or one
// per two-page spread.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/pdf-to-image-service/internal/convert"
	"github.com/book-expert/pdf-to-image-service/internal/raster"
)

var (
	// ErrInputPathRequired is returned when no input PDF is given.
	ErrInputPathRequired = errors.New("input path is required")
	// ErrInputNotFound is returned when the input PDF does not exist.
	ErrInputNotFound = errors.New("input file does not exist")
	// ErrOutputPathRequired is returned when no output directory is given.
	ErrOutputPathRequired = errors.New("output path is required")
)

// Define named types for each section of the configuration.
type configPaths struct {
	InputFile string `toml:"input_file"`
	OutputDir string `toml:"output_dir"`
}

type configLogsDir struct {
	PDFToImage string `toml:"pdf_to_image"`
}

type configSettings struct {
	Backend     string `toml:"backend"`
	JPEGQuality int    `toml:"jpeg_quality"`
	Spreads     bool   `toml:"spreads"`
}

// config represents the structure of the project.toml file.
type config struct {
	Paths    configPaths    `toml:"paths"`
	LogsDir  configLogsDir  `toml:"logs_dir"`
	Settings configSettings `toml:"settings"`
}

func main() {
	// The `run` function contains the core application logic.
	// We call it and then os.Exit to ensure deferred functions are run correctly.
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Done.")
}

// run is the main logic function, separated from main to allow for easier testing and
// clean exit handling.
func run() error {
	projectRoot, configPath, err := configurator.FindProjectRoot(".")
	if err != nil {
		return fmt.Errorf("could not find project root: %w", err)
	}

	cfg, err := safeLoadConfig(configPath)
	if err != nil {
		return err
	}

	flgs := parseFlags()
	options := mergeConfigAndFlags(&cfg, flgs, projectRoot)

	err = validateOptions(&options)
	if err != nil {
		return err
	}

	return convertWithLogger(&options, cfg.LogsDir.PDFToImage)
}

// safeLoadConfig loads the TOML config, allowing missing file without error.
func safeLoadConfig(path string) (config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			var emptyCfg config

			return emptyCfg, nil
		}

		return config{}, fmt.Errorf("error loading config file: %w", err)
	}

	return cfg, nil
}

// loadConfig reads and parses the project.toml file.
func loadConfig(path string) (config, error) {
	var cfg config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		var zero config

		return zero, fmt.Errorf("failed to decode config file: %w", err)
	}

	return cfg, nil
}

// flags represents the command-line arguments.
type flags struct {
	inputPath  string
	outputPath string
	backend    string
	quality    int
	spreads    bool
	// spreadsSet records that -spreads was given, so -spreads=false can
	// override a config file that turns spreads on.
	spreadsSet bool
}

const spreadsFlag = "spreads"

// parseFlags defines and parses command-line flags.
func parseFlags() flags {
	flagsVar, _ := parseFlagSet(flag.CommandLine, os.Args[1:])

	return flagsVar
}

// parseFlagSet defines the command-line flags on flagSet and parses args.
func parseFlagSet(flagSet *flag.FlagSet, args []string) (flags, error) {
	var flagsVar flags
	flagSet.StringVar(&flagsVar.inputPath, "input", "", "Input PDF file (required).")
	flagSet.StringVar(
		&flagsVar.outputPath,
		"output",
		"",
		"Output directory for the images (required, created if missing).",
	)
	flagSet.BoolVar(
		&flagsVar.spreads,
		spreadsFlag,
		false,
		"Join pages in pairs, side by side, instead of one image per page.",
	)
	flagSet.IntVar(&flagsVar.quality, "quality", 0, "JPEG quality from 1 to 100.")
	flagSet.StringVar(&flagsVar.backend, "backend", "", "Rasterizer backend: pdfium or fitz.")

	parseErr := flagSet.Parse(args)
	if parseErr != nil {
		return flagsVar, fmt.Errorf("failed to parse flags: %w", parseErr)
	}

	flagSet.Visit(func(set *flag.Flag) {
		if set.Name == spreadsFlag {
			flagsVar.spreadsSet = true
		}
	})

	return flagsVar, nil
}

// runOptions is everything a single conversion needs.
type runOptions struct {
	ProjectRoot string
	InputPath   string
	OutputDir   string
	Backend     raster.Backend
	JPEGQuality int
	Mode        convert.Mode
}

// mergeConfigAndFlags combines settings from the config file and command-line flags.
// Flags take precedence over the config file settings. An explicit -spreads
// flag, true or false, wins over the config file.
func mergeConfigAndFlags(cfg *config, flgs flags, projectRoot string) runOptions {
	opts := runOptions{
		ProjectRoot: projectRoot,
		InputPath:   cfg.Paths.InputFile,
		OutputDir:   cfg.Paths.OutputDir,
		Backend:     raster.Backend(cfg.Settings.Backend),
		JPEGQuality: cfg.Settings.JPEGQuality,
		Mode:        convert.ModeFromSpreads(cfg.Settings.Spreads),
	}

	// Command-line flags override config file values.
	if flgs.inputPath != "" {
		opts.InputPath = flgs.inputPath
	}

	if flgs.outputPath != "" {
		opts.OutputDir = flgs.outputPath
	}

	if flgs.backend != "" {
		opts.Backend = raster.Backend(flgs.backend)
	}

	if flgs.quality > 0 {
		opts.JPEGQuality = flgs.quality
	}

	if flgs.spreadsSet {
		opts.Mode = convert.ModeFromSpreads(flgs.spreads)
	}

	return opts
}

// validateOptions rejects runs that cannot start: missing paths or a missing input file.
func validateOptions(opts *runOptions) error {
	if opts.InputPath == "" {
		return ErrInputPathRequired
	}

	if opts.OutputDir == "" {
		return ErrOutputPathRequired
	}

	info, statErr := os.Stat(opts.InputPath)
	if statErr != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInputNotFound, opts.InputPath)
	}

	return nil
}

// convertWithLogger sets up the logger and rasterizer and waits for the run.
func convertWithLogger(options *runOptions, logDir string) error {
	log, err := setupLogger(options.ProjectRoot, logDir)
	if err != nil {
		return fmt.Errorf("could not set up logger: %w", err)
	}

	defer func() {
		cerr := log.Close()
		if cerr != nil {
			_, _ = fmt.Fprintf(
				os.Stderr,
				"failed to close logger: %v\n",
				cerr,
			)
		}
	}()

	rasterizer, err := raster.Open(options.Backend)
	if err != nil {
		return fmt.Errorf("could not start rasterizer: %w", err)
	}

	defer func() {
		cerr := rasterizer.Close()
		if cerr != nil {
			log.Warn("Failed to close rasterizer: %v", cerr)
		}
	}()

	converter := convert.NewConverter(&convert.Options{
		ProgressBarOutput: os.Stdout,
		Background:        nil,
		JPEGQuality:       options.JPEGQuality,
	}, rasterizer, log)

	outcome := <-converter.Start(options.InputPath, options.OutputDir, options.Mode)
	if outcome.Err != nil {
		return fmt.Errorf("PDF conversion failed: %w", outcome.Err)
	}

	return nil
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(projectRoot, logDirConfig string) (*logger.Logger, error) {
	logDir := logDirConfig
	if logDir == "" {
		logDir = filepath.Join(projectRoot, "logs", "pdf_to_image")
	}

	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// Command beattrack reports beats in an audio file, analyses a directory of
// WAV files, or prepares a directory of mp3 files for analysis.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/RyanBlaney/sonido-tempo/beat"
	"github.com/RyanBlaney/sonido-tempo/logging"
	"github.com/RyanBlaney/sonido-tempo/report"
	"github.com/RyanBlaney/sonido-tempo/source"
	"github.com/RyanBlaney/sonido-tempo/transcode"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: beattrack [flags] <file | directory>

  <file>                 track beats and print one line per beat
  <directory>            convert every .mp3 into <name>.wav and <name>_60_seconds.wav
  -analyze <directory>   track beats in every .wav file of the directory

flags:
`

type options struct {
	configPath string
	format     string
	analyze    bool
	verbose    bool
	quiet      bool
	workers    int
	sampleRate int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := flag.NewFlagSet("beattrack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "JSON file overriding the tracking parameters")
	fs.StringVar(&opts.format, "format", "text", "report format: text or json")
	fs.BoolVar(&opts.analyze, "analyze", false, "analyse the WAV files of a directory instead of preparing it")
	fs.BoolVar(&opts.verbose, "v", false, "log debug output, including tracker state changes")
	fs.BoolVar(&opts.quiet, "q", false, "only log errors and hide progress")
	fs.IntVar(&opts.workers, "workers", runtime.NumCPU(), "files processed in parallel for directories")
	fs.IntVar(&opts.sampleRate, "rate", 0, "decode non-WAV input at this sample rate (0 keeps the file's rate)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	logger := logging.NewDefaultLoggerWithWriters(stderr, stderr)
	switch {
	case opts.verbose:
		logger.SetLevel(logging.DebugLevel)
	case opts.quiet:
		logger.SetLevel(logging.ErrorLevel)
	}
	logging.SetGlobalLogger(logger)

	cfg := beat.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := beat.LoadConfig(opts.configPath)
		if err != nil {
			logger.Error(err, "Invalid configuration")
			return exitUsage
		}
		cfg = loaded
	}
	if _, err := report.New(opts.format, io.Discard, ""); err != nil {
		logger.Error(err, "Invalid report format")
		return exitUsage
	}

	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		logger.Error(fmt.Errorf("%w: %v", source.ErrSourceOpen, err), "Cannot open input")
		return exitFailure
	}

	decoderConfig := transcode.DefaultDecoderConfig()
	decoderConfig.TargetSampleRate = opts.sampleRate

	a := &app{
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		stdout:  stdout,
		stderr:  stderr,
		decoder: transcode.NewDecoder(decoderConfig),
		clock:   clock.RealClock{},
	}

	switch {
	case !info.IsDir():
		err = a.analyzeFile(ctx, path, stdout)
	case opts.analyze:
		err = a.analyzeDir(ctx, path)
	default:
		err = a.prepareDir(ctx, path)
	}

	if err != nil {
		logger.Error(err, "beattrack failed", logging.Fields{"input": path})
		return exitFailure
	}
	return exitOK
}

type app struct {
	opts    options
	cfg     beat.Config
	logger  logging.Logger
	stdout  io.Writer
	stderr  io.Writer
	decoder *transcode.Decoder
	clock   clock.PassiveClock
}

// open reads WAV files directly and hands everything else, including WAV
// encodings other than integer PCM, to ffmpeg
func (a *app) open(ctx context.Context, path string) (source.Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		src, err := source.OpenWAV(path)
		if err == nil {
			a.logger.Debug("Opened WAV file", logging.Fields{
				"input":       path,
				"channels":    src.Channels(),
				"sample_rate": src.SampleRate(),
			})
			return src, nil
		}
		if !errors.Is(err, source.ErrUnsupportedFormat) {
			return nil, err
		}
		a.logger.Debug("Falling back to ffmpeg", logging.Fields{"input": path, "reason": err.Error()})
	}
	return a.decoder.Open(ctx, path)
}

func (a *app) analyzeFile(ctx context.Context, path string, w io.Writer) error {
	src, err := a.open(ctx, path)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, err := report.New(a.opts.format, w, path)
	if err != nil {
		return err
	}

	logger := a.logger.WithContext(logging.ContextWithFields(ctx, logging.Fields{"input": path}))
	start := a.clock.Now()
	summary, err := beat.Run(ctx, src, a.cfg, sink, logger)
	if err != nil {
		return err
	}

	logger.Debug("Analysis complete", logging.Fields{
		"beats":       summary.Beats,
		"final_state": summary.FinalState.String(),
		"elapsed":     a.clock.Since(start).String(),
	})
	return nil
}

// analyzeDir runs one engine per WAV file in parallel and prints the
// reports in directory order. Failed files are logged and skipped.
func (a *app) analyzeDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	progress, bar := a.progress("Analysing: ", len(files))
	outputs := make([]bytes.Buffer, len(files))
	failed := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.opts.workers, 1))
	for i, file := range files {
		g.Go(func() error {
			if err := a.analyzeFile(gctx, file, &outputs[i]); err != nil {
				a.logger.Error(err, "Skipping file", logging.Fields{"input": file})
				failed[i] = true
			}
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	_ = g.Wait()
	finishProgress(progress, bar)

	for i := range outputs {
		if failed[i] {
			continue
		}
		if _, err := outputs[i].WriteTo(a.stdout); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (a *app) prepareDir(ctx context.Context, dir string) error {
	datasetConfig := transcode.DefaultDatasetConfig()
	datasetConfig.Workers = a.opts.workers
	dataset := transcode.NewDataset(datasetConfig, nil, a.clock)

	inputs, err := dataset.Inputs(dir)
	if err != nil {
		return err
	}

	progress, bar := a.progress("Converting: ", len(inputs))
	var onDone func(transcode.FileResult)
	if bar != nil {
		onDone = func(transcode.FileResult) { bar.Increment() }
	}

	results, err := dataset.Prepare(ctx, dir, onDone)
	finishProgress(progress, bar)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	a.logger.Info("Dataset prepared", logging.Fields{
		"directory": dir,
		"converted": len(results) - failed,
		"failed":    failed,
	})
	return nil
}

// progress returns a bar on stderr, or nils when quiet or there is nothing to do
func (a *app) progress(name string, total int) (*mpb.Progress, *mpb.Bar) {
	if a.opts.quiet || total == 0 {
		return nil, nil
	}

	p := mpb.New(mpb.WithOutput(a.stderr), mpb.WithWidth(64))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)
	return p, bar
}

// finishProgress stops a bar that cannot complete, such as after cancellation
func finishProgress(p *mpb.Progress, bar *mpb.Bar) {
	if p == nil {
		return
	}
	if !bar.Completed() {
		bar.Abort(false)
	}
	p.Wait()
}

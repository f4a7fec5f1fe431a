package transcode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/RyanBlaney/sonido-tempo/logging"
)

// Runner runs an external program to completion and returns its combined
// output. A non-zero exit status is an error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DatasetConfig holds dataset preparation configuration
type DatasetConfig struct {
	FFmpegPath string        `json:"ffmpeg_path"`
	Extension  string        `json:"extension"` // Inputs are matched case-sensitively
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Bitrate    string        `json:"bitrate"`
	Codec      string        `json:"codec"`
	TrimStart  time.Duration `json:"trim_start"`
	TrimLength time.Duration `json:"trim_length"`
	Workers    int           `json:"workers"`
	Timeout    time.Duration `json:"timeout"` // Per ffmpeg invocation
}

// DefaultDatasetConfig returns the default preparation: mono 44.1 kHz PCM,
// trimmed to the minute starting at 0:45
func DefaultDatasetConfig() *DatasetConfig {
	return &DatasetConfig{
		FFmpegPath: "ffmpeg",
		Extension:  ".mp3",
		SampleRate: 44100,
		Channels:   1,
		Bitrate:    "128k",
		Codec:      "pcm_s16le",
		TrimStart:  45 * time.Second,
		TrimLength: 60 * time.Second,
		Workers:    runtime.NumCPU(),
		Timeout:    5 * time.Minute,
	}
}

// FileResult is the outcome of preparing one input file
type FileResult struct {
	Input   string        `json:"input"`
	Full    string        `json:"full"`
	Trimmed string        `json:"trimmed"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
}

// Dataset converts a directory of compressed songs into WAV files the beat
// tracker can read
type Dataset struct {
	config *DatasetConfig
	runner Runner
	clock  clock.PassiveClock
	logger logging.Logger
}

// NewDataset creates a dataset preparer. Nil arguments select the defaults,
// os/exec and the real clock.
func NewDataset(config *DatasetConfig, runner Runner, clk clock.PassiveClock) *Dataset {
	if config == nil {
		config = DefaultDatasetConfig()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Dataset{
		config: config,
		runner: runner,
		clock:  clk,
		logger: logging.WithFields(logging.Fields{
			"component": "dataset",
		}),
	}
}

// Inputs lists the regular files in dir with the configured extension, in
// directory order
func (d *Dataset) Inputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var inputs []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != d.config.Extension {
			continue
		}
		inputs = append(inputs, filepath.Join(dir, entry.Name()))
	}
	return inputs, nil
}

// Prepare converts every input in dir. A failing file is logged and
// recorded in its FileResult; it never stops the others. progress, when
// set, is called once per file and may be called concurrently.
func (d *Dataset) Prepare(ctx context.Context, dir string, progress func(FileResult)) ([]FileResult, error) {
	inputs, err := d.Inputs(dir)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Preparing dataset", logging.Fields{
		"directory": dir,
		"files":     len(inputs),
		"workers":   d.workers(),
	})

	results := make([]FileResult, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())
	for i, input := range inputs {
		g.Go(func() error {
			results[i] = d.PrepareFile(gctx, input)
			if progress != nil {
				progress(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// PrepareFile writes <name>.wav and the trimmed <name>_<n>_seconds.wav next
// to input. The trim is skipped when the conversion fails.
func (d *Dataset) PrepareFile(ctx context.Context, input string) FileResult {
	start := d.clock.Now()
	base := strings.TrimSuffix(input, filepath.Ext(input))
	result := FileResult{
		Input:   input,
		Full:    base + ".wav",
		Trimmed: fmt.Sprintf("%s_%d_seconds.wav", base, int(d.config.TrimLength.Seconds())),
	}

	logger := d.logger.WithFields(logging.Fields{
		"function": "PrepareFile",
		"input":    input,
	})

	if err := d.run(ctx, d.convertArgs(result.Input, result.Full)); err != nil {
		result.Err = fmt.Errorf("failed to convert %s: %w", input, err)
	} else if err := d.run(ctx, d.trimArgs(result.Full, result.Trimmed)); err != nil {
		result.Err = fmt.Errorf("failed to trim %s: %w", result.Full, err)
	}
	result.Elapsed = d.clock.Since(start)

	if result.Err != nil {
		logger.Error(result.Err, "Skipping file")
		return result
	}

	logger.Debug("File prepared", logging.Fields{
		"output":  result.Trimmed,
		"elapsed": result.Elapsed.String(),
	})
	return result
}

func (d *Dataset) run(ctx context.Context, args []string) error {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	output, err := d.runner.Run(ctx, d.config.FFmpegPath, args...)
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// convertArgs renders input as PCM WAV; -y keeps an existing output from
// blocking on a prompt
func (d *Dataset) convertArgs(input, output string) []string {
	return []string{
		"-y", "-nostdin", "-v", "error",
		"-i", input,
		"-vn",
		"-ar", strconv.Itoa(d.config.SampleRate),
		"-ac", strconv.Itoa(d.config.Channels),
		"-codec:a", d.config.Codec,
		"-b:a", d.config.Bitrate,
		output,
	}
}

func (d *Dataset) trimArgs(input, output string) []string {
	return []string{
		"-y", "-nostdin", "-v", "error",
		"-i", input,
		"-ss", formatTimestamp(d.config.TrimStart),
		"-t", formatTimestamp(d.config.TrimLength),
		"-acodec", "copy",
		output,
	}
}

func (d *Dataset) workers() int {
	return max(d.config.Workers, 1)
}

// formatTimestamp renders a duration as HH:MM:SS, dropping fractions
func formatTimestamp(t time.Duration) string {
	total := int(t / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

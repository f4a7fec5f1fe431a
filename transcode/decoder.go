package transcode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-tempo/logging"
	"github.com/RyanBlaney/sonido-tempo/source"
)

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate"` // 0 keeps the input's own rate
	MaxDuration      time.Duration `json:"max_duration"`       // 0 decodes everything
	FFmpegPath       string        `json:"ffmpeg_path"`        // Path to ffmpeg binary
	FFprobePath      string        `json:"ffprobe_path"`       // Path to ffprobe binary
	Timeout          time.Duration `json:"timeout"`            // Timeout for ffprobe
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 0,
		MaxDuration:      0,         // No limit
		FFmpegPath:       "ffmpeg",  // Assume in PATH
		FFprobePath:      "ffprobe", // Assume in PATH
		Timeout:          30 * time.Second,
	}
}

// Decoder opens any ffmpeg-readable file as a mono frame source
type Decoder struct {
	config *DecoderConfig
}

// AudioMetadata holds detected audio properties from FFprobe
type AudioMetadata struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Codec      string  `json:"codec"`
	Duration   float64 `json:"duration"`
	Bitrate    int     `json:"bitrate"`
	Format     string  `json:"format"`
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{config: config}
}

// Open starts ffmpeg on filename and returns a Source streaming its decoded
// samples. Decoding runs as the caller reads; the process ends with Close or
// when ctx is done.
func (d *Decoder) Open(ctx context.Context, filename string) (source.Source, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "audio_decoder",
		"function":  "Open",
		"filename":  filename,
	})

	if err := d.ValidateConfig(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrSourceOpen, err)
	}

	sampleRate := d.config.TargetSampleRate
	if sampleRate == 0 {
		metadata, err := d.probeAudioFile(ctx, filename)
		if err != nil {
			logger.Error(err, "Failed to probe audio file")
			return nil, fmt.Errorf("%w: %s: %v", source.ErrUnsupportedFormat, filename, err)
		}

		logger.Debug("Audio metadata detected", logging.Fields{
			"input_sample_rate": metadata.SampleRate,
			"input_channels":    metadata.Channels,
			"input_codec":       metadata.Codec,
			"input_duration":    metadata.Duration,
			"input_bitrate":     metadata.Bitrate,
		})
		sampleRate = metadata.SampleRate
	}
	if err := source.CheckSampleRate(sampleRate); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.config.FFmpegPath, d.buildFFmpegArgs(filename, sampleRate)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to create ffmpeg pipe: %v", source.ErrSourceOpen, err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", source.ErrSourceOpen, err)
	}

	logger.Debug("FFmpeg decode started", logging.Fields{
		"sample_rate": sampleRate,
		"pid":         cmd.Process.Pid,
	})

	return newStream(stdout, sampleRate, cmd.Wait, cancel, stderr), nil
}

// probeAudioFile uses ffprobe to get audio information from a file
func (d *Decoder) probeAudioFile(ctx context.Context, filename string) (*AudioMetadata, error) {
	args := []string{
		"-v", "quiet", // Suppress verbose output
		"-print_format", "json", // JSON output
		"-show_streams",          // Show stream info
		"-select_streams", "a:0", // First audio stream only
		filename,
	}

	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	output, err := exec.CommandContext(ctx, d.config.FFprobePath, args...).Output()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseFFprobeOutput(output)
}

// parseFFprobeOutput parses ffprobe JSON to extract audio metadata. A
// missing or unparsable sample rate is reported as 0.
func parseFFprobeOutput(jsonData []byte) (*AudioMetadata, error) {
	var probe struct {
		Streams []struct {
			CodecType     string `json:"codec_type"`
			CodecName     string `json:"codec_name"`
			SampleRate    string `json:"sample_rate"`
			Channels      int    `json:"channels"`
			Duration      string `json:"duration"`
			BitRate       string `json:"bit_rate"`
			CodecLongName string `json:"codec_long_name"`
		} `json:"streams"`
	}

	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found")
	}

	stream := probe.Streams[0]

	if stream.CodecType != "audio" {
		return nil, fmt.Errorf("stream is not audio type: %s", stream.CodecType)
	}

	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil {
		sampleRate = 0
	}

	duration, err := strconv.ParseFloat(stream.Duration, 64)
	if err != nil {
		duration = 0
	}

	bitrate, err := strconv.Atoi(stream.BitRate)
	if err != nil {
		bitrate = 0
	}

	if stream.Channels <= 0 || stream.Channels > 8 {
		return nil, fmt.Errorf("invalid channel count: %d", stream.Channels)
	}

	return &AudioMetadata{
		SampleRate: sampleRate,
		Channels:   stream.Channels,
		Codec:      stream.CodecName,
		Duration:   duration,
		Bitrate:    bitrate,
		Format:     stream.CodecLongName,
	}, nil
}

// buildFFmpegArgs decodes the first audio stream to mono little-endian
// float64 on stdout
func (d *Decoder) buildFFmpegArgs(filename string, sampleRate int) []string {
	args := []string{
		"-nostdin",
		"-v", "error",
		"-i", filename,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
	}

	if d.config.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(d.config.MaxDuration.Seconds(), 'f', 3, 64))
	}

	return append(args, "-f", "f64le", "-acodec", "pcm_f64le", "pipe:1")
}

// ValidateConfig validates the decoder configuration
func (d *Decoder) ValidateConfig() error {
	if d.config.TargetSampleRate < 0 {
		return fmt.Errorf("target sample rate must not be negative: %d", d.config.TargetSampleRate)
	}
	if d.config.FFmpegPath == "" || d.config.FFprobePath == "" {
		return fmt.Errorf("ffmpeg and ffprobe paths are required")
	}
	return nil
}

// Stream is a Source reading f64le samples from a running decoder process
type Stream struct {
	reader     io.Reader
	sampleRate int
	raw        []byte

	wait    func() error
	cancel  context.CancelFunc
	stderr  *bytes.Buffer
	done    bool
	waitErr error
}

func newStream(r io.Reader, sampleRate int, wait func() error, cancel context.CancelFunc, stderr *bytes.Buffer) *Stream {
	return &Stream{
		reader:     bufio.NewReaderSize(r, 64*1024),
		sampleRate: sampleRate,
		wait:       wait,
		cancel:     cancel,
		stderr:     stderr,
	}
}

func (s *Stream) SampleRate() int {
	return s.sampleRate
}

// Read fills dst unless the decoder has finished. A decoder that exited
// with an error reports it instead of io.EOF.
func (s *Stream) Read(dst []float64) (int, error) {
	need := len(dst) * 8
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.reader, raw)
	samples := bytesToFloat64(dst, raw[:n-n%8])

	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if werr := s.finish(); werr != nil {
			return samples, fmt.Errorf("ffmpeg failed: %w, stderr: %s", werr, strings.TrimSpace(s.stderr.String()))
		}
		return samples, io.EOF
	default:
		return samples, fmt.Errorf("failed to read decoded audio: %w", err)
	}
}

// Close stops the decoder if it is still running
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.cancel()
	// The process was killed on purpose; its exit status carries no news
	_ = s.finish()
	return nil
}

func (s *Stream) finish() error {
	if !s.done {
		s.done = true
		s.waitErr = s.wait()
		s.cancel()
	}
	return s.waitErr
}

// bytesToFloat64 decodes little-endian float64 samples into dst and returns
// how many were written
func bytesToFloat64(dst []float64, data []byte) int {
	count := min(len(data)/8, len(dst))
	for i := range count {
		bits := binary.LittleEndian.Uint64(data[i*8 : i*8+8])
		dst[i] = math.Float64frombits(bits)
	}
	return count
}

package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-tempo/source"
)

func f64le(values ...float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func TestParseFFprobeOutput(t *testing.T) {
	t.Parallel()

	output := []byte(`{"streams": [{
		"codec_type": "audio",
		"codec_name": "mp3",
		"codec_long_name": "MP3 (MPEG audio layer 3)",
		"sample_rate": "48000",
		"channels": 2,
		"duration": "212.4",
		"bit_rate": "320000"
	}]}`)

	metadata, err := parseFFprobeOutput(output)
	require.NoError(t, err)
	assert.Equal(t, &AudioMetadata{
		SampleRate: 48000,
		Channels:   2,
		Codec:      "mp3",
		Duration:   212.4,
		Bitrate:    320000,
		Format:     "MP3 (MPEG audio layer 3)",
	}, metadata)
}

func TestParseFFprobeOutputErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":   `{"streams": [`,
		"no streams": `{"streams": []}`,
		"video":      `{"streams": [{"codec_type": "video", "channels": 1}]}`,
		"channels":   `{"streams": [{"codec_type": "audio", "sample_rate": "44100", "channels": 0}]}`,
	}
	for name, output := range cases {
		_, err := parseFFprobeOutput([]byte(output))
		assert.Error(t, err, name)
	}
}

func TestParseFFprobeOutputMissingRate(t *testing.T) {
	t.Parallel()

	metadata, err := parseFFprobeOutput([]byte(`{"streams": [{"codec_type": "audio", "channels": 1}]}`))
	require.NoError(t, err)
	assert.Zero(t, metadata.SampleRate)
	assert.ErrorIs(t, source.CheckSampleRate(metadata.SampleRate), source.ErrInvalidSampleRate)
}

func TestBuildFFmpegArgs(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	assert.Equal(t, []string{
		"-nostdin", "-v", "error", "-i", "song.flac", "-vn", "-ac", "1", "-ar", "22050",
		"-f", "f64le", "-acodec", "pcm_f64le", "pipe:1",
	}, d.buildFFmpegArgs("song.flac", 22050))

	d = NewDecoder(&DecoderConfig{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", MaxDuration: 90 * time.Second})
	args := d.buildFFmpegArgs("song.flac", 44100)
	assert.Contains(t, args, "90.000")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestStreamReadsBlocks(t *testing.T) {
	t.Parallel()

	cancelled := false
	data := f64le(0.1, -0.2, 0.3, -0.4, 0.5)
	s := newStream(bytes.NewReader(data), 8000, func() error { return nil }, func() { cancelled = true }, &bytes.Buffer{})
	assert.Equal(t, 8000, s.SampleRate())

	dst := make([]float64, 2)
	n, err := s.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{0.1, -0.2}, dst)

	n, err = s.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Read(dst)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0.5, dst[0])
	assert.True(t, cancelled)

	require.NoError(t, s.Close())
}

func TestStreamDropsTrailingPartialSample(t *testing.T) {
	t.Parallel()

	data := append(f64le(0.25), 0x01, 0x02, 0x03)
	s := newStream(bytes.NewReader(data), 8000, func() error { return nil }, func() {}, &bytes.Buffer{})

	dst := make([]float64, 4)
	n, err := s.Read(dst)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, n)
}

func TestStreamReportsDecoderFailure(t *testing.T) {
	t.Parallel()

	stderr := bytes.NewBufferString("Invalid data found when processing input\n")
	s := newStream(bytes.NewReader(nil), 44100, func() error { return errors.New("exit status 1") }, func() {}, stderr)

	n, err := s.Read(make([]float64, 256))
	assert.Zero(t, n)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestStreamCloseStopsDecoder(t *testing.T) {
	t.Parallel()

	cancelled, waited := false, false
	s := newStream(bytes.NewReader(f64le(1, 2, 3)), 8000,
		func() error { waited = true; return errors.New("signal: killed") },
		func() { cancelled = true }, &bytes.Buffer{})

	require.NoError(t, s.Close())
	assert.True(t, cancelled)
	assert.True(t, waited)
	require.NoError(t, s.Close())
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	assert.ErrorIs(t, err, source.ErrSourceOpen)
}

func TestOpenFailsWithoutTools(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3"), 0o644))

	missing := filepath.Join(t.TempDir(), "no-such-binary")

	// Probing fails
	d := NewDecoder(&DecoderConfig{FFmpegPath: missing, FFprobePath: missing, Timeout: time.Second})
	_, err := d.Open(context.Background(), path)
	assert.ErrorIs(t, err, source.ErrUnsupportedFormat)

	// Starting the decoder fails
	d = NewDecoder(&DecoderConfig{TargetSampleRate: 44100, FFmpegPath: missing, FFprobePath: missing})
	_, err = d.Open(context.Background(), path)
	assert.ErrorIs(t, err, source.ErrSourceOpen)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewDecoder(nil).ValidateConfig())
	assert.Error(t, NewDecoder(&DecoderConfig{TargetSampleRate: -1, FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}).ValidateConfig())
	assert.Error(t, NewDecoder(&DecoderConfig{}).ValidateConfig())
}

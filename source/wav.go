package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// WAV streams an integer PCM WAV file, down-mixing all channels to mono
type WAV struct {
	file       *os.File
	decoder    *wav.Decoder
	buf        *audio.IntBuffer
	path       string
	channels   int
	sampleRate int
	bitDepth   int
	scale      float64
	ended      bool
}

// OpenWAV opens path and reads its header. The sample rate is the file's own.
func OpenWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceOpen, path, err)
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, fmt.Errorf("%w: %s: WAV format tag %d is not integer PCM",
			ErrUnsupportedFormat, path, decoder.WavAudioFormat)
	}
	if decoder.NumChans < 1 || decoder.BitDepth < 8 || decoder.BitDepth > 32 {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %d channels at %d bits",
			ErrUnsupportedFormat, path, decoder.NumChans, decoder.BitDepth)
	}
	if err := CheckSampleRate(int(decoder.SampleRate)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	bitDepth := int(decoder.BitDepth)
	return &WAV{
		file:       f,
		decoder:    decoder,
		path:       path,
		channels:   int(decoder.NumChans),
		sampleRate: int(decoder.SampleRate),
		bitDepth:   bitDepth,
		scale:      1.0 / float64(int64(1)<<(bitDepth-1)),
	}, nil
}

func (w *WAV) SampleRate() int {
	return w.sampleRate
}

// Channels returns the channel count of the file before down-mixing
func (w *WAV) Channels() int {
	return w.channels
}

// Read fills dst with mono samples. It only returns a short count at the end
// of the data chunk.
func (w *WAV) Read(dst []float64) (int, error) {
	total := 0
	for total < len(dst) && !w.ended {
		n, err := w.readFrames(dst[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			w.ended = true
		}
	}
	if w.ended && total < len(dst) {
		return total, io.EOF
	}
	return total, nil
}

func (w *WAV) readFrames(dst []float64) (int, error) {
	want := len(dst) * w.channels
	if w.buf == nil || cap(w.buf.Data) < want {
		w.buf = &audio.IntBuffer{Data: make([]int, want)}
	}
	w.buf.Data = w.buf.Data[:want]

	n, err := w.decoder.PCMBuffer(w.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to read %s: %w", w.path, err)
	}

	frames := n / w.channels
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < w.channels; c++ {
			sum += w.sample(w.buf.Data[i*w.channels+c])
		}
		dst[i] = sum / float64(w.channels)
	}
	return frames, nil
}

// sample converts one integer sample; 8-bit WAV data is unsigned
func (w *WAV) sample(v int) float64 {
	if w.bitDepth == 8 {
		v -= 128
	}
	return float64(v) * w.scale
}

func (w *WAV) Close() error {
	return w.file.Close()
}

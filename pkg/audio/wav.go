package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth16 = 16

	// wavFormatPCM is the WAVE_FORMAT_PCM tag.
	wavFormatPCM = 1
)

// ErrInvalidWAV is returned when a payload is not a decodable RIFF/WAVE file.
var ErrInvalidWAV = errors.New("audio: invalid wav file")

// EncodeWAV wraps 16-bit PCM samples in a RIFF/WAVE container.
func EncodeWAV(samples []int16, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %s", f)
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, f.SampleRate, bitDepth16, f.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}
	return ws.Bytes(), nil
}

// DecodedWAV is the PCM content of a WAV file.
type DecodedWAV struct {
	Samples  []int16
	Format   Format
	Duration time.Duration
}

// DecodeWAV parses a RIFF/WAVE payload. Samples of any bit depth are scaled
// to 16 bits.
func DecodeWAV(data []byte) (DecodedWAV, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return DecodedWAV{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return DecodedWAV{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil {
		return DecodedWAV{}, ErrInvalidWAV
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 {
		depth = bitDepth16
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth > bitDepth16:
			v >>= depth - bitDepth16
		case depth == 8:
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		case depth < bitDepth16:
			v <<= bitDepth16 - depth
		}
		samples[i] = int16(v)
	}

	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if f.SampleRate == 0 && buf.Format != nil {
		f.SampleRate = buf.Format.SampleRate
	}
	if f.Channels == 0 && buf.Format != nil {
		f.Channels = buf.Format.NumChannels
	}
	if f.Channels == 0 {
		f.Channels = 1
	}
	return DecodedWAV{Samples: samples, Format: f, Duration: f.Duration(len(samples))}, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes once the data length is known.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}

func (w *writeSeeker) Bytes() []byte { return w.buf }

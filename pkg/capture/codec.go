package capture

import (
	"github.com/MrWong99/shopvox/pkg/audio"
)

// MIME types produced by the built-in codecs.
const (
	MIMEWAV = "audio/wav"
	MIMEPCM = "application/octet-stream"
)

// Codec materialises a sample buffer into a payload.
type Codec interface {
	MIMEType() string
	Encode(samples []int16, f audio.Format) ([]byte, error)
}

// WAVCodec wraps samples in a RIFF/WAVE container. It is the primary codec.
type WAVCodec struct{}

// MIMEType implements Codec.
func (WAVCodec) MIMEType() string { return MIMEWAV }

// Encode implements Codec.
func (WAVCodec) Encode(samples []int16, f audio.Format) ([]byte, error) {
	return audio.EncodeWAV(samples, f)
}

// PCMCodec emits raw 16-bit little-endian PCM. It is the fallback for
// consumers that cannot parse WAV.
type PCMCodec struct{}

// MIMEType implements Codec.
func (PCMCodec) MIMEType() string { return MIMEPCM }

// Encode implements Codec.
func (PCMCodec) Encode(samples []int16, _ audio.Format) ([]byte, error) {
	return audio.Int16ToBytes(samples), nil
}

// DefaultCodecs lists the codecs in preference order.
func DefaultCodecs() []Codec {
	return []Codec{WAVCodec{}, PCMCodec{}}
}

// Negotiate returns the first codec consumer supports. When consumer is nil
// the first codec wins; when it supports none, the last (fallback) codec is
// used.
func Negotiate(codecs []Codec, consumer Consumer) Codec {
	if len(codecs) == 0 {
		return PCMCodec{}
	}
	if consumer == nil {
		return codecs[0]
	}
	for _, c := range codecs {
		if consumer.Supports(c.MIMEType()) {
			return c
		}
	}
	return codecs[len(codecs)-1]
}

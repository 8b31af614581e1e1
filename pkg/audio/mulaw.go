// Package audio implements the narrow-band audio plumbing between TTS output
// and the telephone wire: G.711 µ-law encode/decode, PCM resampling, and
// 20 ms framing.
//
// The wire format is fixed by the carrier: 8 kHz mono µ-law, 160 bytes per
// 20 ms frame. TTS providers deliver 16 kHz linear PCM, so the outbound path
// is resample → encode → frame.
package audio

const (
	// WireSampleRate is the telephony sample rate in Hz.
	WireSampleRate = 8000

	// TTSSampleRate is the linear PCM rate requested from TTS providers.
	TTSSampleRate = 16000

	mulawBias = 0x84
	mulawClip = 32635
)

// MulawEncodeSample converts one 16-bit linear PCM sample to its G.711 µ-law
// byte.
func MulawEncodeSample(sample int16) byte {
	v := int32(sample)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MulawDecodeSample converts one G.711 µ-law byte back to a 16-bit linear PCM
// sample.
func MulawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := (int32(mantissa)<<3 + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// MulawEncode converts little-endian 16-bit mono PCM to µ-law, one byte per
// sample. A trailing odd byte is ignored.
func MulawEncode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = MulawEncodeSample(s)
	}
	return out
}

// MulawDecode converts µ-law bytes to little-endian 16-bit mono PCM, two
// bytes per input byte.
func MulawDecode(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := MulawDecodeSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

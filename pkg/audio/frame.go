package audio

import "time"

const (
	// FrameBytes is the size of one wire frame: 160 µ-law bytes, i.e. 20 ms
	// of audio at 8 kHz.
	FrameBytes = 160

	// FrameDuration is the real-time length of one wire frame.
	FrameDuration = 20 * time.Millisecond

	// mulawSilence is the µ-law encoding of a zero sample, used to pad a
	// trailing partial frame.
	mulawSilence = 0xFF
)

// Frames splits µ-law audio into wire frames of exactly [FrameBytes] bytes.
// A trailing partial frame is padded with µ-law silence so every returned
// frame is full-length. Returns nil for empty input.
func Frames(mulaw []byte) [][]byte {
	if len(mulaw) == 0 {
		return nil
	}
	n := (len(mulaw) + FrameBytes - 1) / FrameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(mulaw); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(mulaw) {
			frames = append(frames, mulaw[off:end])
			continue
		}
		padded := make([]byte, FrameBytes)
		copy(padded, mulaw[off:])
		for i := len(mulaw) - off; i < FrameBytes; i++ {
			padded[i] = mulawSilence
		}
		frames = append(frames, padded)
	}
	return frames
}

// PlaybackEstimate returns how long the prospect will hear audio for the
// given number of wire frames, rounded up to whole seconds. Used to clear
// the opening cooldown once the greeting has plausibly finished playing.
func PlaybackEstimate(frames int) time.Duration {
	if frames <= 0 {
		return 0
	}
	bytes := frames * FrameBytes
	secs := (bytes + WireSampleRate - 1) / WireSampleRate
	return time.Duration(secs) * time.Second
}

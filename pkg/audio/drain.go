package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel must be
// consumed but its data is no longer wanted (e.g. the audio channel of a
// cancelled TTS stream).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

package telephony

import (
	"strings"
	"testing"
)

func TestMediaStreamDirective(t *testing.T) {
	t.Parallel()

	got := MediaStreamDirective("engine.example.com", "sess-42")
	if !strings.HasPrefix(got, "<?xml") {
		t.Fatalf("missing XML header: %q", got)
	}
	if !strings.Contains(got, `<Stream url="wss://engine.example.com/call/media/sess-42">`) &&
		!strings.Contains(got, `<Stream url="wss://engine.example.com/call/media/sess-42"/>`) {
		t.Fatalf("missing stream element: %q", got)
	}
	if !strings.Contains(got, `<Pause length="3600">`) &&
		!strings.Contains(got, `<Pause length="3600"/>`) {
		t.Fatalf("missing keep-alive pause: %q", got)
	}
	if !strings.Contains(got, "<Connect>") {
		t.Fatalf("missing Connect element: %q", got)
	}
}

func TestErrorDirective(t *testing.T) {
	t.Parallel()

	got := ErrorDirective()
	if !strings.Contains(got, "<Say>") {
		t.Fatalf("missing Say element: %q", got)
	}
	if !strings.Contains(got, "<Hangup>") && !strings.Contains(got, "<Hangup/>") {
		t.Fatalf("missing Hangup element: %q", got)
	}
}

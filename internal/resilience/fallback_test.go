package resilience

import (
	"errors"
	"testing"
	"time"
)

// vendorStub is the backend value used in group tests. The err field controls
// whether a call through it succeeds.
type vendorStub struct {
	name  string
	err   error
	calls int
}

func newGroup(backends ...*vendorStub) *FallbackGroup[*vendorStub] {
	cfg := FallbackConfig{
		Breaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}
	fg := NewFallbackGroup(backends[0], backends[0].name, cfg)
	for _, b := range backends[1:] {
		fg.AddFallback(b.name, b)
	}
	return fg
}

func callStub(v *vendorStub) error {
	v.calls++
	return v.err
}

func TestFallbackGroup_PrimaryWins(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai"}
	backup := &vendorStub{name: "groq"}
	fg := newGroup(primary, backup)

	if err := fg.Execute(callStub); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if backup.calls != 0 {
		t.Errorf("backup calls = %d, want 0: healthy primary must shadow it", backup.calls)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai", err: errVendor}
	backup := &vendorStub{name: "groq"}
	fg := newGroup(primary, backup)

	if err := fg.Execute(callStub); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai", err: errVendor}
	backup := &vendorStub{name: "groq"}
	fg := newGroup(primary, backup)

	// First call trips the primary's breaker (MaxFailures=1).
	if err := fg.Execute(callStub); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := fg.Execute(callStub); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1: open breaker must not forward", primary.calls)
	}
	if backup.calls != 2 {
		t.Errorf("backup calls = %d, want 2", backup.calls)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai", err: errVendor}
	backup := &vendorStub{name: "groq", err: errVendor}
	fg := newGroup(primary, backup)

	err := fg.Execute(callStub)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_ExecuteWithResult(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai", err: errVendor}
	backup := &vendorStub{name: "groq"}
	fg := newGroup(primary, backup)

	got, err := ExecuteWithResult(fg, func(v *vendorStub) (string, error) {
		v.calls++
		return v.name, v.err
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "groq" {
		t.Errorf("result = %q, want the backup's value", got)
	}
}

func TestFallbackGroup_PrimaryAndBackends(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai"}
	fg := newGroup(primary, &vendorStub{name: "groq"}, &vendorStub{name: "mistral"})

	if fg.Primary() != primary {
		t.Error("Primary() did not return the first backend")
	}
	want := []string{"openai", "groq", "mistral"}
	got := fg.Backends()
	if len(got) != len(want) {
		t.Fatalf("Backends() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Backends()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFallbackGroup_BreakerRecoveryRestoresPrimary(t *testing.T) {
	t.Parallel()

	primary := &vendorStub{name: "openai", err: errVendor}
	backup := &vendorStub{name: "groq"}
	cfg := FallbackConfig{
		Breaker: CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: 10 * time.Millisecond,
			HalfOpenMax:  1,
		},
	}
	fg := NewFallbackGroup(primary, primary.name, cfg)
	fg.AddFallback(backup.name, backup)

	if err := fg.Execute(callStub); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	primary.err = nil
	time.Sleep(15 * time.Millisecond)

	if err := fg.Execute(callStub); err != nil {
		t.Fatalf("Execute after recovery: %v", err)
	}
	if primary.calls != 2 {
		t.Errorf("primary calls = %d, want 2: recovered primary should be tried again", primary.calls)
	}
}

package bargein

import (
	"sync/atomic"
	"testing"
	"time"
)

type fakePlayback struct {
	remaining int32
}

func (f *fakePlayback) RemainingMs() int { return int(atomic.LoadInt32(&f.remaining)) }

func TestSpeechStarted_IgnoredDuringGreeting(t *testing.T) {
	pb := &fakePlayback{remaining: 5000}
	var ignored string
	c := New(Config{DebounceMs: 20, MinRemainMs: 2000}, pb, Events{
		OnIgnored: func(reason string) { ignored = reason },
	})
	c.SpeechStarted()
	if ignored != "greeting_phase" {
		t.Fatalf("expected greeting_phase ignore, got %q", ignored)
	}
}

func TestSpeechStarted_IgnoredWhenAlmostFinished(t *testing.T) {
	pb := &fakePlayback{remaining: 500}
	var ignored string
	c := New(Config{DebounceMs: 20, MinRemainMs: 2000}, pb, Events{
		OnIgnored: func(reason string) { ignored = reason },
	})
	c.SetPhase(PhaseNormal)
	c.SpeechStarted()
	if ignored != "audio_almost_finished" {
		t.Fatalf("expected audio_almost_finished ignore, got %q", ignored)
	}
}

func TestDebounce_CancelledBySpeechStoppedBeforeFire(t *testing.T) {
	pb := &fakePlayback{remaining: 5000}
	var confirmed, cancelled int32
	c := New(Config{DebounceMs: 50, MinRemainMs: 2000}, pb, Events{
		OnConfirmed: func() { atomic.AddInt32(&confirmed, 1) },
		OnCancelled: func(string) { atomic.AddInt32(&cancelled, 1) },
	})
	c.SetPhase(PhaseNormal)
	c.SpeechStarted()
	time.Sleep(10 * time.Millisecond) // well before 50ms debounce fires
	c.SpeechStopped()
	time.Sleep(80 * time.Millisecond) // well past where the timer would have fired
	if atomic.LoadInt32(&confirmed) != 0 {
		t.Fatalf("expected no confirm, got %d", confirmed)
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Fatalf("expected exactly one cancel, got %d", cancelled)
	}
}

func TestDebounce_FiresWithoutSpeechStopped(t *testing.T) {
	pb := &fakePlayback{remaining: 5000}
	confirmedCh := make(chan struct{}, 1)
	c := New(Config{DebounceMs: 20, MinRemainMs: 2000}, pb, Events{
		OnConfirmed: func() { confirmedCh <- struct{}{} },
	})
	c.SetPhase(PhaseNormal)
	c.SpeechStarted()
	select {
	case <-confirmedCh:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected confirm to fire")
	}
}

func TestShutdown_PreventsLateFire(t *testing.T) {
	pb := &fakePlayback{remaining: 5000}
	var confirmed int32
	c := New(Config{DebounceMs: 20, MinRemainMs: 2000}, pb, Events{
		OnConfirmed: func() { atomic.AddInt32(&confirmed, 1) },
	})
	c.SetPhase(PhaseNormal)
	c.SpeechStarted()
	c.Shutdown()
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&confirmed) != 0 {
		t.Fatalf("expected no confirm after shutdown, got %d", confirmed)
	}
}

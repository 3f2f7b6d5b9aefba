package playback

import "testing"

func TestAdvanceSent_AccountsBytesPerLaw(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	_, sentMs := tr.AdvanceSent(160) // 20ms frame
	if sentMs != 20 {
		t.Fatalf("expected sentMs=20, got %d", sentMs)
	}
}

func TestAdvanceSent_EmitsMarkAtSpacing(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	var lastMark string
	for i := 0; i < 20; i++ { // 20 * 20ms = 400ms >= 300ms spacing
		name, _ := tr.AdvanceSent(160)
		if name != "" {
			lastMark = name
		}
	}
	if lastMark == "" {
		t.Fatalf("expected at least one mark to be emitted")
	}
}

func TestAckMark_BumpsPlayedMsWhenNotClearing(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	var mark string
	for i := 0; i < 20 && mark == ""; i++ {
		mark, _ = tr.AdvanceSent(160)
	}
	if mark == "" {
		t.Fatalf("no mark emitted in setup")
	}
	tr.AckMark(mark)
	_, playedMs, _ := tr.Snapshot()
	if playedMs <= 0 {
		t.Fatalf("expected playedMs to advance, got %d", playedMs)
	}
}

func TestAckMark_DiscardedWhileClearing(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	var mark string
	for i := 0; i < 20 && mark == ""; i++ {
		mark, _ = tr.AdvanceSent(160)
	}
	tr.BeginClearing()
	tr.AckMark(mark)
	_, playedMs, clearing := tr.Snapshot()
	if playedMs != 0 {
		t.Fatalf("expected playedMs to stay 0 while clearing, got %d", playedMs)
	}
	if !clearing {
		t.Fatalf("expected clearing to remain true")
	}
}

func TestReset_ClearsClearingFlag(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	tr.BeginClearing()
	tr.Reset("item2")
	_, _, clearing := tr.Snapshot()
	if clearing {
		t.Fatalf("expected clearing to reset to false on new utterance")
	}
}

func TestPlayedMsNeverExceedsSentMs(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	var marks []string
	for i := 0; i < 40; i++ {
		if name, _ := tr.AdvanceSent(160); name != "" {
			marks = append(marks, name)
		}
	}
	for _, m := range marks {
		tr.AckMark(m)
	}
	sentMs, playedMs, _ := tr.Snapshot()
	if playedMs > sentMs {
		t.Fatalf("playedMs %d exceeded sentMs %d", playedMs, sentMs)
	}
}

func TestBeginClearing_ReturnsPlayedMsAtMoment(t *testing.T) {
	tr := New()
	tr.Reset("item1")
	mark, _ := tr.AdvanceSent(8000) // 1000ms, should emit a mark
	tr.AckMark(mark)
	_, playedMsBefore, _ := tr.Snapshot()
	got := tr.BeginClearing()
	if got != playedMsBefore {
		t.Fatalf("BeginClearing returned %d, want %d", got, playedMsBefore)
	}
}

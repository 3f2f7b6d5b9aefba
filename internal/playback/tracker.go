// Package playback implements the Playback Tracker: per-assistant-utterance
// accounting of how much audio was sent to the carrier versus how much the
// carrier has actually played, using mark acknowledgements as the only
// trustworthy signal for the latter.
package playback

import (
	"fmt"
	"sync"

	"github.com/rukataka0505/ailuna-call-engine/internal/codec"
)

// minMarkSpacingMs is the minimum sentMs delta between two marks.
const minMarkSpacingMs = 300

// Tracker is reset on every response.output_item.added for an assistant message.
type Tracker struct {
	mu sync.Mutex

	assistantItemID string
	sentMs          int
	playedMs        int
	lastMarkSentMs  int
	marks           map[string]int
	markSeq         int
	clearing        bool
}

// New constructs an empty Tracker. Reset must be called once the first
// assistant item id is known.
func New() *Tracker {
	return &Tracker{marks: make(map[string]int)}
}

// Reset begins a new utterance: clears counters and the mark map, and drops
// the clearing flag, in response to a response.output_item.added event.
func (t *Tracker) Reset(assistantItemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assistantItemID = assistantItemID
	t.sentMs = 0
	t.playedMs = 0
	t.lastMarkSentMs = 0
	t.markSeq = 0
	t.marks = make(map[string]int)
	t.clearing = false
}

// AssistantItemID returns the id of the utterance currently being tracked.
func (t *Tracker) AssistantItemID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistantItemID
}

// AdvanceSent accounts decodedBytes of newly forwarded audio and returns a
// mark name to emit if spacing since the last mark has reached the minimum,
// or "" if no mark should be emitted yet.
func (t *Tracker) AdvanceSent(decodedBytes int) (markName string, sentMs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentMs += codec.MillisForBytes(decodedBytes)
	if t.sentMs-t.lastMarkSentMs >= minMarkSpacingMs {
		t.markSeq++
		name := fmt.Sprintf("a:%s:ms:%d:seq:%d", t.assistantItemID, t.sentMs, t.markSeq)
		t.marks[name] = t.sentMs
		t.lastMarkSentMs = t.sentMs
		return name, t.sentMs
	}
	return "", t.sentMs
}

// AckMark records a mark acknowledgement from the carrier. If clearing is
// true the acknowledgement is discarded entirely (late marks from pre-clear
// audio must not resurrect playedMs past the interruption point).
func (t *Tracker) AckMark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sentAt, ok := t.marks[name]
	if !ok {
		return
	}
	delete(t.marks, name)
	if t.clearing {
		return
	}
	if sentAt > t.playedMs {
		t.playedMs = sentAt
	}
}

// BeginClearing marks the tracker as clearing: subsequent mark acks are
// ignored until the next Reset. Returns the playedMs value at the moment of
// clearing, which is the truncation value the caller must send upstream.
func (t *Tracker) BeginClearing() (playedMs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearing = true
	return t.playedMs
}

// Snapshot returns the current sentMs/playedMs/clearing state.
func (t *Tracker) Snapshot() (sentMs, playedMs int, clearing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentMs, t.playedMs, t.clearing
}

// RemainingMs is sentMs - playedMs, the amount of audio not yet confirmed played.
func (t *Tracker) RemainingMs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentMs - t.playedMs
}

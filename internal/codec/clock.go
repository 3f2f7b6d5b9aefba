// Package codec holds the byte/millisecond accounting rules the playback
// tracker and barge-in controller depend on. The carrier speaks µ-law end to
// end and nothing in this bridge transcodes it, so the only math needed is
// the pure byte-rate conversion below.
package codec

// SampleRate is the carrier's fixed audio rate: 8000 samples/sec, 1 byte/sample.
const SampleRate = 8000

// BytesPerMillisecond follows directly from SampleRate for 8-bit µ-law.
const BytesPerMillisecond = SampleRate / 1000

// MillisForBytes converts a count of decoded µ-law bytes to milliseconds of
// audio, per the audio byte-count law: sentMs increases by exactly
// round(B * 1000 / 8000) for B decoded bytes.
func MillisForBytes(decodedBytes int) int {
	if decodedBytes <= 0 {
		return 0
	}
	// round(B * 1000 / 8000) == round(B / 8); integer rounding to nearest.
	return (decodedBytes + BytesPerMillisecond/2) / BytesPerMillisecond
}

// BytesForMillis is the inverse accounting helper, used by tests and by
// callers that need to size a send buffer for a target duration.
func BytesForMillis(ms int) int {
	if ms <= 0 {
		return 0
	}
	return ms * BytesPerMillisecond
}

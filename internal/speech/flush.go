package speech

import "strings"

// sentenceBreaks mark points where buffered text can be handed to the
// speaker without waiting for the full response.
var sentenceBreaks = []string{". ", "! ", "? ", "\n"}

// SentenceFlusher accumulates streamed text fragments and forwards
// complete sentences to a Speaker, so playback starts before the model
// finishes its reply. Not safe for concurrent use; one flusher serves
// one streaming turn.
type SentenceFlusher struct {
	speaker Speaker
	buf     strings.Builder
}

// NewSentenceFlusher creates a flusher targeting speaker.
func NewSentenceFlusher(speaker Speaker) *SentenceFlusher {
	return &SentenceFlusher{speaker: speaker}
}

// Write appends a text fragment and speaks any complete sentences.
func (f *SentenceFlusher) Write(fragment string) {
	f.buf.WriteString(fragment)

	for {
		text := f.buf.String()
		idx, brk := -1, ""
		for _, b := range sentenceBreaks {
			if i := strings.Index(text, b); i >= 0 && (idx < 0 || i < idx) {
				idx, brk = i, b
			}
		}
		if idx < 0 {
			return
		}

		sentence := strings.TrimSpace(text[:idx+1])
		if sentence != "" {
			f.speaker.Speak(sentence)
		}
		f.buf.Reset()
		f.buf.WriteString(text[idx+len(brk):])
	}
}

// Flush speaks whatever remains in the buffer. Call once streaming ends.
func (f *SentenceFlusher) Flush() {
	if rest := strings.TrimSpace(f.buf.String()); rest != "" {
		f.speaker.Speak(rest)
	}
	f.buf.Reset()
}

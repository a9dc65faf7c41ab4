// Package timing holds the word/sentence timing model used to sync captions
// with the synthesized voiceover.
package timing

import "strings"

// WordTiming is the placement of a single spoken word in the audio track.
type WordTiming struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// Duration returns the word's spoken length in seconds.
func (w WordTiming) Duration() float64 {
	return w.End - w.Start
}

// SentenceTiming is a caption display window covering one sentence.
type SentenceTiming struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`    // seconds
	Duration float64 `json:"duration"` // seconds
}

// End returns the window end in seconds.
func (s SentenceTiming) End() float64 {
	return s.Start + s.Duration
}

// SplitSentences splits voiceover text on sentence-ending punctuation
// followed by whitespace, keeping the punctuation with each sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var sb strings.Builder
	runes := []rune(text)

	for i, r := range runes {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			atEnd := i == len(runes)-1
			if atEnd || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(sb.String()); s != "" {
					sentences = append(sentences, s)
				}
				sb.Reset()
			}
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// GroupWords walks sentences in order and greedily consumes one word timing
// per word in the sentence. Each sentence window starts at its first consumed
// word and spans through its last consumed word. If word timings run out
// before the sentences do, the remaining sentences are dropped; partial
// caption coverage is fine.
func GroupWords(words []WordTiming, sentences []string) []SentenceTiming {
	var result []SentenceTiming
	idx := 0

	for _, sentence := range sentences {
		if idx >= len(words) {
			break
		}
		n := len(strings.Fields(sentence))
		if n == 0 {
			continue
		}
		end := idx + n
		if end > len(words) {
			end = len(words)
		}

		first := words[idx]
		last := words[end-1]
		result = append(result, SentenceTiming{
			Text:     sentence,
			Start:    first.Start,
			Duration: last.End - first.Start,
		})
		idx = end
	}
	return result
}

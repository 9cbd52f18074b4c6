package conversation

import (
	"slices"
	"strings"
)

// Trigger keywords for the summary extractor. A sentence is recorded when it
// contains a trigger and is not already present verbatim in the target list.
var (
	needKeywords      = []string{"necesito", "necesitamos", "buscamos", "queremos", "requiero"}
	objectionKeywords = []string{"pero", "sin embargo", "problema", "preocupa", "duda"}
)

// extractFragments appends to existing every sentence of text that contains
// one of the trigger keywords, skipping exact-string duplicates. De-dup is
// exact match only; near-duplicates differing in whitespace survive.
func extractFragments(text string, keywords []string, existing []string) []string {
	sentences := splitSentences(text)
	out := existing
	for _, keyword := range keywords {
		if !strings.Contains(text, keyword) {
			continue
		}
		for _, sentence := range sentences {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || !strings.Contains(sentence, keyword) {
				continue
			}
			if !slices.Contains(out, sentence) {
				out = append(out, sentence)
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}

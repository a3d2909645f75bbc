package engine

import (
	"strings"
	"time"
)

// ScoreTyping recomputes typing progress from the raw transcript. Clients
// send the text they typed, never their own word index, WPM, or accuracy;
// everything here is derived from the canonical corpus on the server.
//
// A word counts as completed only when it is terminated by a space and
// exactly matches the expected word at that position. The word index stops
// advancing at the first mismatch. Accuracy is character-level over the
// whole attempt, clamped to [0,100]. WPM uses the standard 5-chars-per-word
// convention over correctly typed characters.
func ScoreTyping(words []string, typed string, elapsed time.Duration) TypingProgress {
	fields := strings.Fields(typed)
	terminated := strings.HasSuffix(typed, " ")

	idx := 0
	for i, field := range fields {
		if i == len(fields)-1 && !terminated {
			break // still mid-word
		}
		if i >= len(words) || i != idx || field != words[i] {
			break
		}
		idx++
	}

	var correct, total int
	for i, field := range fields {
		total += len(field)
		if i >= len(words) {
			continue
		}
		expected := words[i]
		n := min(len(field), len(expected))
		for j := 0; j < n; j++ {
			if field[j] == expected[j] {
				correct++
			}
		}
	}

	accuracy := 100.0
	if total > 0 {
		accuracy = 100 * float64(correct) / float64(total)
	}
	if accuracy > 100 {
		accuracy = 100
	}
	if accuracy < 0 {
		accuracy = 0
	}

	var wpm float64
	if minutes := elapsed.Minutes(); minutes > 0 {
		wpm = (float64(correct) / 5) / minutes
	}

	return TypingProgress{CurrentWordIndex: idx, WPM: wpm, Accuracy: accuracy}
}

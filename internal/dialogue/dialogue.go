// Package dialogue rebuilds a speaker-labeled conversation from diarized words.
package dialogue

import (
	"errors"
	"strings"

	"github.com/clarity-bridge/callcoach/internal/transcribe"
)

// ErrNoWords is returned when there is nothing to reconstruct.
var ErrNoWords = errors.New("dialogue: no words to reconstruct")

// FailureText is the body of the sentinel transcript produced by Failed.
const FailureText = "[transcript formatting failed]"

// Turn is a maximal run of consecutive words from one speaker.
type Turn struct {
	Speaker int     `json:"speaker"`
	Label   string  `json:"label"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Words   int     `json:"words"`
}

// Transcript is the ordered list of labeled turns.
type Transcript struct {
	Turns  []Turn
	Failed bool
	Reason string // set when Failed
}

// Reconstruct groups consecutive words with the same speaker into turns in a
// single left-to-right pass. A speaker that recurs later starts a new turn.
// label may be nil, in which case NumericLabels is used.
func Reconstruct(words []transcribe.Word, label Labeler) (*Transcript, error) {
	if len(words) == 0 {
		return nil, ErrNoWords
	}
	if label == nil {
		label = NumericLabels
	}

	var turns []Turn
	var buf strings.Builder
	cur := Turn{Speaker: words[0].Speaker, Start: words[0].Start}

	flush := func() {
		cur.Text = strings.TrimSpace(buf.String())
		cur.Label = label(cur.Speaker)
		turns = append(turns, cur)
		buf.Reset()
	}

	for _, w := range words {
		if w.Speaker != cur.Speaker {
			flush()
			cur = Turn{Speaker: w.Speaker, Start: w.Start}
		}
		buf.WriteString(w.Text)
		buf.WriteByte(' ')
		cur.End = w.End
		cur.Words++
	}
	// Last run has no speaker change after it.
	flush()

	return &Transcript{Turns: turns}, nil
}

// Failed returns the sentinel transcript for a formatting failure. It renders
// as FailureText and has no turns.
func Failed(err error) *Transcript {
	t := &Transcript{Failed: true}
	if err != nil {
		t.Reason = err.Error()
	}
	return t
}

// String renders "<label>: <text>" lines separated by blank lines.
func (t *Transcript) String() string {
	if t == nil || t.Failed {
		return FailureText
	}
	var sb strings.Builder
	for i, turn := range t.Turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(turn.Label)
		sb.WriteString(": ")
		sb.WriteString(turn.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Speakers returns the distinct speaker ids in order of first appearance.
func (t *Transcript) Speakers() []int {
	if t == nil {
		return nil
	}
	seen := make(map[int]bool)
	var ids []int
	for _, turn := range t.Turns {
		if !seen[turn.Speaker] {
			seen[turn.Speaker] = true
			ids = append(ids, turn.Speaker)
		}
	}
	return ids
}

// WordCount returns the total number of words across all turns.
func (t *Transcript) WordCount() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, turn := range t.Turns {
		n += turn.Words
	}
	return n
}

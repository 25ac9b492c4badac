package dialogue

import (
	"fmt"
	"strconv"
	"strings"
)

// Labeler maps a speaker id to a display label.
type Labeler func(speaker int) string

// NumericLabels is the default, lossless labeler: "Speaker <id>".
func NumericLabels(speaker int) string {
	return "Speaker " + strconv.Itoa(speaker)
}

// BinaryLabels maps speaker 0 to "Speaker A" and every other id to "Speaker B".
// Lossy beyond two speakers: ids 1, 2, ... all render as "Speaker B".
func BinaryLabels(speaker int) string {
	if speaker == 0 {
		return "Speaker A"
	}
	return "Speaker B"
}

// LetterLabels maps 0 -> "Speaker A", 25 -> "Speaker Z", 26 -> "Speaker AA".
func LetterLabels(speaker int) string {
	return "Speaker " + letters(speaker)
}

func letters(n int) string {
	if n < 0 {
		return strconv.Itoa(n)
	}
	var b []byte
	for n >= 0 {
		b = append([]byte{byte('A' + n%26)}, b...)
		n = n/26 - 1
	}
	return string(b)
}

// NamedLabels labels speaker i with names[i] and falls back for ids outside
// the list or with a blank name.
func NamedLabels(names []string, fallback Labeler) Labeler {
	if fallback == nil {
		fallback = NumericLabels
	}
	return func(speaker int) string {
		if speaker >= 0 && speaker < len(names) {
			if name := strings.TrimSpace(names[speaker]); name != "" {
				return name
			}
		}
		return fallback(speaker)
	}
}

// LabelerFor resolves a labeling policy by name: "numeric" (or ""), "letters", "binary".
func LabelerFor(name string) (Labeler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "numeric":
		return NumericLabels, nil
	case "letters":
		return LetterLabels, nil
	case "binary":
		return BinaryLabels, nil
	default:
		return nil, fmt.Errorf("unknown speaker label policy %q", name)
	}
}

// IsLossy reports whether the policy name merges distinct speakers.
func IsLossy(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), "binary")
}

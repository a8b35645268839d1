package chat

import (
	"regexp"
	"strings"
)

// mentionOrCommand matches from the first "!" or "@" to the end of the line.
var mentionOrCommand = regexp.MustCompile(`[!@].*`)

var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

// CleanMessage normalizes a raw chat line into a ledger key. A word that
// appears again later in the line (ignoring case) is dropped, so spam like
// "1 1 1" becomes "1". An empty result means the line carries nothing to count.
func CleanMessage(raw string) string {
	s := lineBreaks.Replace(raw)
	s = dropRepeatedWords(s)
	s = mentionOrCommand.ReplaceAllString(s, "")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// dropRepeatedWords keeps only the last occurrence of each word.
func dropRepeatedWords(s string) string {
	words := strings.Fields(s)
	if len(words) < 2 {
		return s
	}
	seen := make(map[string]struct{}, len(words))
	kept := make([]string, 0, len(words))
	for i := len(words) - 1; i >= 0; i-- {
		w := strings.ToLower(words[i])
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		kept = append(kept, words[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, " ")
}

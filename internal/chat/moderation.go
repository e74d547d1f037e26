package chat

import (
	"regexp"
	"strings"
	"unicode"
)

// Moderator scans messages for profanity and junk. A flagged message still
// gets a response; moderation affects shareability and audit, not
// availability. The conversation is marked banned and denied a share token.
type Moderator struct {
	blocked map[string]struct{}
}

// junkRunLen is the repeated-rune count at which a message counts as keyboard
// mashing.
const junkRunLen = 10

func NewModerator() *Moderator {
	blocked := map[string]struct{}{}
	for _, w := range []string{
		"fuck", "shit", "bitch", "cunt", "asshole", "bastard", "dick", "pussy",
		"nigger", "faggot", "retard", "whore", "slut",
	} {
		blocked[w] = struct{}{}
	}
	return &Moderator{blocked: blocked}
}

var wordRe = regexp.MustCompile(`[a-z']+`)

// Check returns whether the message is flagged and why.
func (m *Moderator) Check(message string) (bool, string) {
	lower := strings.ToLower(message)

	for _, word := range wordRe.FindAllString(lower, -1) {
		if _, ok := m.blocked[strings.Trim(word, "'")]; ok {
			return true, "profanity"
		}
	}

	if hasRuneRun(message, junkRunLen) {
		return true, "junk_input"
	}

	// Mostly non-letter content of meaningful length is keyboard mashing or
	// pasted garbage. Counted over runes so non-Latin scripts are not
	// penalized for their byte width.
	letters, total := 0, 0
	for _, r := range message {
		total++
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			letters++
		}
	}
	if total >= 40 && float64(letters)/float64(total) < 0.3 {
		return true, "junk_input"
	}

	return false, ""
}

// hasRuneRun reports whether s contains n or more identical consecutive
// runes. RE2 has no backreferences, so this is a plain scan.
func hasRuneRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

// Package normalizer reduces scraped regulation pages to one clean,
// deduplicated narrative grouped by source.
package normalizer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Block is the raw text collected from one source.
type Block struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

var (
	boilerplate = regexp.MustCompile(`(?i)\b(cookies?|subscribe|newsletter|sign in|sign up|log ?in|log ?out|` +
		`share this|share on|follow us|privacy policy|terms of (use|service)|all rights reserved|` +
		`skip to (main )?content|back to top|read more|click here|accept all|javascript|advertisement)\b|©`)
	bareURL     = regexp.MustCompile(`^(https?://|www\.)\S+$`)
	spaceRun    = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	sentenceEnd = ".:;?!)\"'"
)

// maxBoilerplateWords caps the length of a line dropped for a boilerplate
// phrase; longer lines are regulatory prose that happens to contain one.
const maxBoilerplateWords = 8

// Normalize joins the blocks into a single narrative. Every surviving block
// is introduced by a "Source: <url>" heading; boilerplate lines and
// paragraphs already seen in an earlier block are dropped. Empty input
// yields an empty string.
func Normalize(blocks []Block) string {
	seen := make(map[string]struct{})
	var sections []string

	for i, b := range blocks {
		var kept []string
		for _, para := range paragraphs(b.Text) {
			key := dedupKey(para)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			kept = append(kept, para)
		}
		if len(kept) == 0 {
			continue
		}

		source := strings.TrimSpace(b.Source)
		if source == "" {
			source = fmt.Sprintf("source %d", i+1)
		}
		sections = append(sections, "Source: "+source+"\n\n"+strings.Join(kept, "\n\n"))
	}

	return strings.Join(sections, "\n\n")
}

// paragraphs splits text on blank lines, drops boilerplate lines and
// rejoins the remaining lines of each paragraph with single spaces.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line == "" {
			flush()
			continue
		}
		if isBoilerplate(line) {
			continue
		}
		cur = append(cur, line)
	}
	flush()

	return out
}

func isBoilerplate(line string) bool {
	if bareURL.MatchString(line) || !hasLetter(line) {
		return true
	}
	words := strings.Fields(line)
	if len(words) <= maxBoilerplateWords && boilerplate.MatchString(line) {
		return true
	}
	// menu entries and button labels: one or two words, no punctuation
	return len(words) <= 2 && !strings.ContainsAny(line[len(line)-1:], sentenceEnd)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func dedupKey(para string) string {
	return strings.ToLower(strings.Join(strings.Fields(para), " "))
}

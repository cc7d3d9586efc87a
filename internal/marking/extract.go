// Package marking implements the Mass-Marking Engine (component H): a
// bounded-concurrency batch runner that drives the Session Broker's
// SelfApprove operation across a list of targets and aggregates the result.
package marking

import (
	"regexp"
	"strings"
)

// groupPattern matches Upstream's group-code shape, e.g. "ИКБО-12-23"
// (§4.H.2).
var groupPattern = regexp.MustCompile(`^[А-ЯЁ]{4}-\d{2}-\d{2}$`)

// personNamePattern matches a "Surname I.O." style display name — the
// shape Upstream's identity and self-approve responses both use for FIO.
var personNamePattern = regexp.MustCompile(`^[А-ЯЁ][а-яё]+\s+[А-ЯЁ]\.\s?[А-ЯЁ]?\.?$`)

// seasonTokens are the semester-name tokens the self-approve response may
// carry alongside the group and discipline; neither is ever the subject.
var seasonTokens = []string{"осенний", "весенний", "осень", "весна", "семестр"}

// shortTokenMaxLen is the cutoff below which a token is assumed to be a
// stray initial or code fragment rather than a meaningful field.
const shortTokenMaxLen = 5

// extractGroupAndSubject runs the deterministic filter pipeline (§4.H.2,
// §9): split the response on " | ", take the first token matching the
// group pattern as the group, and the longest token that is none of
// short/season/person-name as the subject. Either or both may come back
// empty — the caller classifies a fully empty result as "token expired".
func extractGroupAndSubject(raw []byte) (group, subject string) {
	tokens := splitPipe(string(raw))

	for _, tok := range tokens {
		if group == "" && groupPattern.MatchString(tok) {
			group = tok
		}
	}

	for _, tok := range tokens {
		if tok == group {
			continue
		}
		if isFiltered(tok) {
			continue
		}
		if len(tok) > len(subject) {
			subject = tok
		}
	}

	return group, subject
}

// isFiltered reports whether tok should never be picked as the subject: a
// short fragment, a season/semester marker, or a person's display name.
func isFiltered(tok string) bool {
	if isShortToken(tok) {
		return true
	}
	if isSeasonToken(tok) {
		return true
	}
	if isPersonNameToken(tok) {
		return true
	}
	return false
}

func isShortToken(tok string) bool {
	return len([]rune(tok)) <= shortTokenMaxLen
}

func isSeasonToken(tok string) bool {
	lower := strings.ToLower(tok)
	for _, season := range seasonTokens {
		if strings.Contains(lower, season) {
			return true
		}
	}
	return false
}

func isPersonNameToken(tok string) bool {
	return personNamePattern.MatchString(tok)
}

// splitPipe splits Upstream's " | "-joined response text into trimmed,
// non-empty tokens. Same opacity rule as the broker's own response
// scraping: no assumption about the record beyond this delimiter.
func splitPipe(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "|") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

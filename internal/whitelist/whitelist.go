// Package whitelist decides which files a pass may hand to the processor.
package whitelist

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Filter matches file names against a set of file-kind tokens such as
// "fastq", "fq.gz" or "png". A name is eligible when it ends with "." plus
// one of the tokens, compared case-insensitively. The zero Filter matches
// nothing.
type Filter struct {
	suffixes []string
}

// New builds a Filter from raw tokens.
func New(tokens []string) Filter {
	fold := cases.Fold()
	var f Filter
	for _, token := range Normalize(tokens) {
		f.suffixes = append(f.suffixes, "."+fold.String(token))
	}
	return f
}

// Empty reports whether the filter matches nothing.
func (f Filter) Empty() bool {
	return len(f.suffixes) == 0
}

// IsEligible reports whether name (a base name or path) carries a
// whitelisted kind. It depends only on the token set. Casers are stateful,
// so one is built per call to keep Filter safe for concurrent use.
func (f Filter) IsEligible(name string) bool {
	if len(f.suffixes) == 0 {
		return false
	}
	base := name
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	folded := cases.Fold().String(base)
	for _, suffix := range f.suffixes {
		if len(folded) > len(suffix) && strings.HasSuffix(folded, suffix) {
			return true
		}
	}
	return false
}

// Parse splits a user supplied list on commas and whitespace.
func Parse(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return Normalize(fields)
}

// Normalize trims, lowercases, strips leading dots and "*." globs, drops
// empties and returns a sorted set.
func Normalize(tokens []string) []string {
	lower := cases.Lower(language.Und)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		token = strings.TrimPrefix(token, "*")
		token = strings.TrimLeft(token, ".")
		token = lower.String(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	slices.Sort(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// String renders tokens the way `antman info` prints them.
func String(tokens []string) string {
	if len(tokens) == 0 {
		return "(empty)"
	}
	return strings.Join(tokens, ",")
}

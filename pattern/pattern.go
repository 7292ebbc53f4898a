// Package pattern compiles `*`/`?` wildcards to regular expressions for
// directory listing.
package pattern

import (
	"regexp"
	"strings"
)

type SearchPattern struct {
	re *regexp.Regexp
}

// Compile turns a wildcard into an anchored, case-insensitive regexp.
// `*` matches any run of characters, `?` exactly one.
func Compile(wildcard string) (*SearchPattern, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range wildcard {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &SearchPattern{re: re}, nil
}

func (p *SearchPattern) Match(name string) bool {
	return p.re.MatchString(name)
}

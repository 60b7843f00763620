// Package argvtemplate implements the backup argv template expansion
// (C9): at init the configured template is whitespace-split and each
// token classified static (no '%') or dynamic; at fork time dynamic
// tokens get %N/%L/%K substituted, and anything left with a stray '%'
// is run through a strftime expansion.
package argvtemplate

import (
	"os"
	"strings"
	"time"

	"github.com/fpl/autodird/internal/strftime"
)

type token struct {
	text    string
	dynamic bool
}

// Template holds a pre-parsed backup program argv template.
type Template struct {
	tokens   []token
	hostname string
}

// New splits and classifies raw (the -b/--backup argument), caching
// the local hostname once up front since %K never changes during a
// daemon's lifetime.
func New(raw string) *Template {
	fields := strings.Fields(raw)
	t := &Template{tokens: make([]token, 0, len(fields))}
	for _, f := range fields {
		t.tokens = append(t.tokens, token{text: f, dynamic: strings.Contains(f, "%")})
	}
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	t.hostname = host
	return t
}

// Expand substitutes %N (name), %L (real path), %K (hostname), and
// feeds any remaining '%' verb through a strftime expansion using
// now. Static tokens are returned unmodified (by value; Go strings
// are immutable so no "reuse by pointer" optimization is needed here,
// unlike the C original's argv pointer reuse).
func (t *Template) Expand(name, realPath string, now time.Time) []string {
	argv := make([]string, len(t.tokens))
	for i, tok := range t.tokens {
		if !tok.dynamic {
			argv[i] = tok.text
			continue
		}
		s := tok.text
		s = strings.ReplaceAll(s, "%N", name)
		s = strings.ReplaceAll(s, "%L", realPath)
		s = strings.ReplaceAll(s, "%K", t.hostname)
		if strings.Contains(s, "%") {
			s = strftime.Expand(s, now)
		}
		argv[i] = s
	}
	return argv
}

// Empty reports whether the template carries no arguments at all
// (backup disabled or misconfigured).
func (t *Template) Empty() bool {
	return len(t.tokens) == 0
}

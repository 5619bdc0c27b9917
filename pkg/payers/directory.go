// Package payers resolves payer names to trading partner service ids using an
// in-memory snapshot of the payer directory.
package payers

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Payer is one row of the payer directory.
type Payer struct {
	ID          string
	DisplayName string
	Aliases     string
}

type entry struct {
	id          string
	display     string
	aliases     []string
	displayKeys map[string]struct{}
	aliasKeys   map[string]struct{}
}

// Directory is an immutable snapshot of eligible payers. It is safe for
// concurrent use and performs no I/O once built.
type Directory struct {
	entries []entry
}

// commonWords are ignored when scoring keyword matches.
var commonWords = map[string]struct{}{
	"OF": {}, "THE": {}, "AND": {}, "A": {}, "AN": {}, "IN": {},
	"FOR": {}, "ON": {}, "AT": {}, "TO": {}, "BY": {},
}

// NewDirectory builds a snapshot from the given payers. Rows without an id are
// ignored.
func NewDirectory(payers []Payer) *Directory {
	d := &Directory{entries: make([]entry, 0, len(payers))}
	for _, p := range payers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		e := entry{
			id:          id,
			display:     Normalize(p.DisplayName),
			displayKeys: Keywords(p.DisplayName),
			aliasKeys:   Keywords(p.Aliases),
		}
		for _, alias := range strings.FieldsFunc(p.Aliases, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
			if n := Normalize(alias); n != "" {
				e.aliases = append(e.aliases, n)
			}
		}
		d.entries = append(d.entries, e)
	}
	return d
}

// Len returns the number of payers in the snapshot.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Resolve returns the payer id for name. When shortID is set only payers whose
// id ends with it are considered. Candidates are tried by exact name, then by
// containment, then by the highest keyword overlap. The second result is false
// when nothing matched.
func (d *Directory) Resolve(name, shortID string) (string, bool) {
	if d == nil {
		return "", false
	}

	candidates := d.entries
	if shortID = strings.ToUpper(strings.TrimSpace(shortID)); shortID != "" {
		candidates = nil
		for _, e := range d.entries {
			if strings.HasSuffix(strings.ToUpper(e.id), shortID) {
				candidates = append(candidates, e)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	query := Normalize(name)
	if query == "" {
		// a short id alone still narrows the directory
		if shortID != "" {
			return candidates[0].id, true
		}
		return "", false
	}

	for _, e := range candidates {
		if e.display == query {
			return e.id, true
		}
	}
	for _, e := range candidates {
		for _, alias := range e.aliases {
			if alias == query {
				return e.id, true
			}
		}
	}

	for _, e := range candidates {
		if strings.Contains(e.display, query) {
			return e.id, true
		}
	}
	for _, e := range candidates {
		for _, alias := range e.aliases {
			if strings.Contains(alias, query) {
				return e.id, true
			}
		}
	}

	keys := Keywords(name)
	best, bestScore := "", 0
	for _, e := range candidates {
		score := overlap(keys, e.displayKeys) + overlap(keys, e.aliasKeys)
		if score > bestScore {
			best, bestScore = e.id, score
		}
	}
	return best, bestScore > 0
}

// Normalize upper-cases name, replaces punctuation with spaces and collapses
// runs of whitespace.
func Normalize(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, name)
	return cases.Upper(language.Und).String(strings.Join(strings.Fields(cleaned), " "))
}

// Keywords returns the significant words of name: at least two characters and
// not a common word.
func Keywords(name string) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, w := range strings.Fields(Normalize(name)) {
		if len([]rune(w)) < 2 {
			continue
		}
		if _, common := commonWords[w]; common {
			continue
		}
		keys[w] = struct{}{}
	}
	return keys
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// Package textform converts message text between its display form (emoji
// glyphs as typed by users) and its storage form (glyphs replaced by
// :alias: codes).
//
// Storage form grammar, read left to right:
//
//	\:  and  \\      an escaped literal ':' or '\'
//	:name:           the glyph of a known alias
//	anything else    itself
//
// ToStorageForm only escapes a ':' or '\' when leaving it bare would change
// how the rest of the string is read, so ordinary text is stored untouched
// and ToDisplayForm(ToStorageForm(s)) == s for every s.
package textform

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kyokomi/emoji/v2"
)

type table struct {
	aliasOf  map[string]string // glyph -> canonical alias name
	glyphOf  map[string]string // alias name -> glyph
	first    [256]bool         // leading bytes of known glyphs
	maxGlyph int
	maxName  int
}

var defaultTable = sync.OnceValue(func() *table {
	return newTable(emoji.CodeMap())
})

// newTable builds the lookup tables from a ":name:" -> glyph code map. The
// canonical alias of a glyph is its shortest name, ties broken
// lexicographically.
func newTable(codes map[string]string) *table {
	t := &table{
		aliasOf: make(map[string]string, len(codes)),
		glyphOf: make(map[string]string, len(codes)),
	}
	for code, glyph := range codes {
		if len(code) < 3 || code[0] != ':' || code[len(code)-1] != ':' {
			continue
		}
		name := code[1 : len(code)-1]
		if name == "" || strings.ContainsAny(name, `:\`) || glyph == "" || isASCII(glyph) {
			continue
		}
		t.glyphOf[name] = glyph
		if len(name) > t.maxName {
			t.maxName = len(name)
		}
		if cur, ok := t.aliasOf[glyph]; !ok || len(name) < len(cur) || (len(name) == len(cur) && name < cur) {
			t.aliasOf[glyph] = name
		}
	}
	for glyph := range t.aliasOf {
		t.first[glyph[0]] = true
		if len(glyph) > t.maxGlyph {
			t.maxGlyph = len(glyph)
		}
	}
	return t
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// ToStorageForm replaces emoji glyphs with their canonical :alias: code.
func ToStorageForm(s string) string {
	if s == "" {
		return s
	}
	return defaultTable().encode(s)
}

// ToDisplayForm is the inverse of ToStorageForm.
func ToDisplayForm(s string) string {
	if s == "" || !strings.ContainsAny(s, `:\`) {
		return s
	}
	return defaultTable().decode(s)
}

// Alias returns the canonical alias name used for glyph.
func Alias(glyph string) (string, bool) {
	name, ok := defaultTable().aliasOf[glyph]
	return name, ok
}

type unit struct {
	text  string
	alias string
}

func (t *table) encode(s string) string {
	units := t.tokenize(s)

	// Built back to front: whether a ':' or '\' needs escaping depends on
	// what follows it in the output.
	parts := make([]string, len(units))
	head := ""
	limit := t.maxName + 2
	for i := len(units) - 1; i >= 0; i-- {
		u := units[i]
		part := u.text
		switch {
		case u.alias != "":
			part = ":" + u.alias + ":"
		case u.text == ":" && t.opensAlias(head):
			part = `\:`
		case u.text == `\` && head != "" && (head[0] == ':' || head[0] == '\\'):
			part = `\\`
		}
		parts[i] = part
		head = part + head
		if len(head) > limit {
			head = head[:limit]
		}
	}
	return strings.Join(parts, "")
}

// opensAlias reports whether a bare ':' placed before rest would be decoded
// as the start of a :name: code.
func (t *table) opensAlias(rest string) bool {
	j := strings.IndexByte(rest, ':')
	if j < 0 {
		return false
	}
	_, ok := t.glyphOf[rest[:j]]
	return ok
}

func (t *table) tokenize(s string) []unit {
	var units []unit
	start := 0
	flush := func(end int) {
		if end > start {
			units = append(units, unit{text: s[start:end]})
		}
	}
	for i := 0; i < len(s); {
		c := s[i]
		if c == ':' || c == '\\' {
			flush(i)
			units = append(units, unit{text: s[i : i+1]})
			i++
			start = i
			continue
		}
		if t.first[c] {
			if n, name := t.match(s[i:]); n > 0 {
				flush(i)
				units = append(units, unit{text: s[i : i+n], alias: name})
				i += n
				start = i
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	flush(len(s))
	return units
}

// match finds the longest known glyph at the start of s.
func (t *table) match(s string) (int, string) {
	n := t.maxGlyph
	if len(s) < n {
		n = len(s)
	}
	for ; n > 0; n-- {
		if name, ok := t.aliasOf[s[:n]]; ok {
			return n, name
		}
	}
	return 0, ""
}

func (t *table) decode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && (s[i+1] == ':' || s[i+1] == '\\'):
			b.WriteByte(s[i+1])
			i += 2
			continue
		case c == ':':
			end := i + 2 + t.maxName
			if end > len(s) {
				end = len(s)
			}
			if j := strings.IndexByte(s[i+1:end], ':'); j >= 0 {
				if glyph, ok := t.glyphOf[s[i+1:i+1+j]]; ok {
					b.WriteString(glyph)
					i += j + 2
					continue
				}
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

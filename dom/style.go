package dom

import (
	"strconv"
	"strings"
)

// Declaration is a single inline CSS declaration.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// ParseStyle splits an inline style attribute into declarations. Semicolons
// inside quotes or parentheses (data URIs, url(...)) do not end a declaration.
// Property names are lowercased; later duplicates win.
func ParseStyle(s string) []Declaration {
	var (
		decls []Declaration
		depth int
		quote rune
		start int
	)
	flush := func(end int) {
		part := strings.TrimSpace(s[start:end])
		if part == "" {
			return
		}
		colon := strings.IndexByte(part, ':')
		if colon <= 0 {
			return
		}
		prop := strings.ToLower(strings.TrimSpace(part[:colon]))
		val := strings.TrimSpace(part[colon+1:])
		important := false
		if i := strings.LastIndex(strings.ToLower(val), "!important"); i >= 0 {
			important = true
			val = strings.TrimSpace(val[:i])
		}
		decls = setDeclaration(decls, prop, val, important)
	}
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ';' && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(s))
	return decls
}

// FormatStyle serializes declarations back into an inline style attribute.
func FormatStyle(decls []Declaration) string {
	var b strings.Builder
	for i, d := range decls {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.Property)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Important {
			b.WriteString(" !important")
		}
		b.WriteByte(';')
	}
	return b.String()
}

func styleValue(decls []Declaration, prop string) (string, bool) {
	for i := len(decls) - 1; i >= 0; i-- {
		if decls[i].Property == prop {
			return decls[i].Value, true
		}
	}
	return "", false
}

func setDeclaration(decls []Declaration, prop, value string, important bool) []Declaration {
	for i := range decls {
		if decls[i].Property == prop {
			decls[i].Value = value
			decls[i].Important = important
			return decls
		}
	}
	return append(decls, Declaration{Property: prop, Value: value, Important: important})
}

func removeDeclaration(decls []Declaration, prop string) []Declaration {
	out := decls[:0]
	for _, d := range decls {
		if d.Property != prop {
			out = append(out, d)
		}
	}
	return out
}

// length is a parsed CSS length: either absolute pixels or a percentage.
type length struct {
	value   float64
	percent bool
}

// parseLength understands "120px", "120", "50%" and "0". Keywords such as
// auto and relative units resolve to ok=false.
func parseLength(v string) (length, bool) {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return length{}, false
	}
	switch {
	case strings.HasSuffix(v, "px"):
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "px")), 64)
		return length{value: f}, err == nil
	case strings.HasSuffix(v, "%"):
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(v, "%")), 64)
		return length{value: f, percent: true}, err == nil
	default:
		f, err := strconv.ParseFloat(v, 64)
		return length{value: f}, err == nil
	}
}

func (l length) resolve(base float64) float64 {
	if l.percent {
		return base * l.value / 100
	}
	return l.value
}

// Package handler bridges on-disk handler files and the runtime. It extracts
// the declarative metadata a handler exports (description, triggers, runOnce)
// from its source text, and provides the subprocess invoker that actually
// runs the handler code.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/funcd-io/funcd/internal/domain"
)

// ErrNoHandler marks a file that does not export a default handler.
// The loader skips such files with a log line.
var ErrNoHandler = errors.New("handler: no default export")

// Manifest is the metadata a handler file declares.
type Manifest struct {
	Description string
	Triggers    []domain.Trigger
	RunOnce     bool
}

var (
	exportDefaultRe = regexp.MustCompile(`(?m)^\s*export\s+default\b`)
	descriptionRe   = regexp.MustCompile(`export\s+const\s+description\s*(?::\s*string\s*)?=\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|` + "`[^`]*`" + `)`)
	runOnceRe       = regexp.MustCompile(`export\s+const\s+runOnce\s*(?::\s*boolean\s*)?=\s*(true|false)`)
	triggersRe      = regexp.MustCompile(`export\s+const\s+triggers\s*(?::\s*[\w\[\]<>. ]+\s*)?=`)
)

// ParseManifest extracts the exported metadata from handler source text.
// The file must contain an `export default`; ErrNoHandler is returned
// otherwise. Trigger declarations are object literals in a JSON-compatible
// subset (unquoted keys and single-quoted strings are tolerated).
func ParseManifest(src []byte) (*Manifest, error) {
	if !exportDefaultRe.Match(src) {
		return nil, ErrNoHandler
	}

	m := &Manifest{}

	if g := descriptionRe.FindSubmatch(src); g != nil {
		m.Description = unquote(string(g[1]))
	}
	if g := runOnceRe.FindSubmatch(src); g != nil {
		m.RunOnce = string(g[1]) == "true"
	}

	if loc := triggersRe.FindIndex(src); loc != nil {
		rest := src[loc[1]:]
		lit, err := extractArray(rest)
		if err != nil {
			return nil, fmt.Errorf("handler: triggers declaration: %w", err)
		}
		normalized := normalizeObjectLiteral(lit)
		if err := json.Unmarshal(normalized, &m.Triggers); err != nil {
			return nil, fmt.Errorf("handler: decode triggers: %w", err)
		}
	}

	return m, nil
}

// unquote strips matching quotes and resolves simple escapes.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	body := s[1 : len(s)-1]
	if q == '`' {
		return body
	}
	body = strings.ReplaceAll(body, `\`+string(q), string(q))
	body = strings.ReplaceAll(body, `\\`, `\`)
	return body
}

// extractArray returns the first balanced [...] literal in src, skipping
// string contents when tracking nesting depth.
func extractArray(src []byte) ([]byte, error) {
	start := -1
	for i, c := range src {
		if c == '[' {
			start = i
			break
		}
		// Only whitespace may precede the array literal.
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return nil, fmt.Errorf("expected array literal")
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("expected array literal")
	}

	depth := 0
	var inString byte
	escaped := false
	for i := start; i < len(src); i++ {
		c := src[i]
		if inString != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == inString:
				inString = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inString = c
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return src[start : i+1], nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated array literal")
}

// normalizeObjectLiteral converts a JS/TS object literal in the supported
// subset to strict JSON: bare identifier keys are quoted, single-quoted
// strings become double-quoted and trailing commas are dropped. Anything
// richer (expressions, comments) is out of contract and surfaces as a JSON
// decode error.
func normalizeObjectLiteral(src []byte) []byte {
	var out []byte
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"':
			j := skipString(src, i, '"')
			out = append(out, src[i:j]...)
			i = j
		case c == '\'':
			j := skipString(src, i, '\'')
			body := src[i+1 : j-1]
			out = append(out, '"')
			for k := 0; k < len(body); k++ {
				switch body[k] {
				case '"':
					out = append(out, '\\', '"')
				case '\\':
					if k+1 < len(body) && body[k+1] == '\'' {
						out = append(out, '\'')
						k++
					} else {
						out = append(out, '\\')
					}
				default:
					out = append(out, body[k])
				}
			}
			out = append(out, '"')
			i = j
		case c == ',':
			// A comma whose next token is a closer is a trailing comma,
			// valid in TS source but not in JSON.
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j < len(src) && (src[j] == ']' || src[j] == '}') {
				i++
				continue
			}
			out = append(out, c)
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := string(src[i:j])
			// Bare words that are JSON literals pass through; a bare word
			// followed by ':' is a key that needs quoting.
			k := j
			for k < len(src) && (src[k] == ' ' || src[k] == '\t' || src[k] == '\n' || src[k] == '\r') {
				k++
			}
			if k < len(src) && src[k] == ':' && word != "true" && word != "false" && word != "null" {
				out = append(out, '"')
				out = append(out, word...)
				out = append(out, '"')
			} else {
				out = append(out, word...)
			}
			i = j
		default:
			out = append(out, c)
			i++
		}
	}
	return out
}

// skipString returns the index just past the closing quote.
func skipString(src []byte, start int, quote byte) int {
	escaped := false
	for i := start + 1; i < len(src); i++ {
		switch {
		case escaped:
			escaped = false
		case src[i] == '\\':
			escaped = true
		case src[i] == quote:
			return i + 1
		}
	}
	return len(src)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Package sqlscan splits PostgreSQL script text into top-level statements.
//
// The scanner is a small state machine rather than a set of regular
// expressions. It tracks every construct that can legally contain a
// semicolon without terminating the statement:
//
//   - single-quoted strings ('it''s'), including E'...' strings with
//     backslash escapes
//   - double-quoted identifiers ("a;b")
//   - line comments (-- ...) and nested block comments (/* /* */ */)
//   - dollar-quoted strings ($$...$$, $body$...$body$)
//   - SQL-standard function bodies (BEGIN ATOMIC ... END)
//
// Statement offsets always refer to the original input, so callers can
// rewrite individual statements and reassemble the script byte for byte:
//
//	for _, st := range sqlscan.Split(src) {
//	    out.WriteString(st.Leading())
//	    out.WriteString(transform(st.SQL()))
//	}
package sqlscan

import "strings"

// Statement is a single top-level statement within a script.
type Statement struct {
	// Start is the offset of the first byte after the previous statement's
	// terminator. Text between Start and Body is whitespace and comments.
	Start int

	// Body is the offset of the first significant byte of the statement.
	// Body == End for trailing whitespace/comments with no statement.
	Body int

	// End is the exclusive end offset. It covers the terminating semicolon
	// when Terminated is true.
	End int

	// Terminated reports whether the statement ended at a top-level semicolon.
	Terminated bool

	src string
}

// Text returns the full span including leading whitespace and comments.
func (s Statement) Text() string {
	return s.src[s.Start:s.End]
}

// Leading returns whitespace and comments preceding the statement body.
func (s Statement) Leading() string {
	return s.src[s.Start:s.Body]
}

// SQL returns the statement from its first keyword through its terminator.
func (s Statement) SQL() string {
	return s.src[s.Body:s.End]
}

// Empty reports whether the span holds no statement (only trivia, or a
// bare semicolon).
func (s Statement) Empty() bool {
	body := strings.TrimSpace(s.SQL())
	return body == "" || body == ";"
}

// Line returns the 1-based line number of the statement body.
func (s Statement) Line() int {
	return strings.Count(s.src[:s.Body], "\n") + 1
}

// Split breaks src into top-level statements. Concatenating Text() of every
// returned statement reproduces src exactly.
func Split(src string) []Statement {
	var (
		out   []Statement
		start = 0
		body  = -1
		sc    = bodyTracker{}
	)

	emit := func(end int, terminated bool) {
		b := body
		if b < 0 {
			b = end
		}
		out = append(out, Statement{
			Start:      start,
			Body:       b,
			End:        end,
			Terminated: terminated,
			src:        src,
		})
		start = end
		body = -1
		sc = bodyTracker{}
	}

	i := 0
	for i < len(src) {
		c := src[i]

		// Trivia never starts a statement body.
		if c == '-' && peek(src, i+1) == '-' {
			i = skipLineComment(src, i)
			continue
		}
		if c == '/' && peek(src, i+1) == '*' {
			i = skipBlockComment(src, i)
			continue
		}
		if isSpace(c) {
			i++
			continue
		}

		if body < 0 {
			body = i
		}

		switch {
		case c == '\'':
			i = skipString(src, i, false)
		case c == '"':
			i = skipQuotedIdent(src, i)
		case c == '$':
			if tag, ok := dollarTag(src, i); ok {
				i = skipDollar(src, i, tag)
			} else {
				i++
			}
		case c == ';':
			if sc.atomicDepth > 0 {
				i++
				continue
			}
			emit(i+1, true)
			i++
		case isIdentStart(c):
			j := scanWord(src, i)
			word := src[i:j]
			// E'...' and e'...' strings honour backslash escapes.
			if (word == "E" || word == "e") && peek(src, j) == '\'' {
				i = skipString(src, j, true)
				continue
			}
			sc.word(strings.ToUpper(word))
			i = j
		default:
			i++
		}
	}

	if start < len(src) {
		emit(len(src), false)
	}
	return out
}

// bodyTracker follows BEGIN ATOMIC ... END bodies, whose inner statements
// are terminated by semicolons that do not end the enclosing CREATE.
type bodyTracker struct {
	prev        string
	atomicDepth int
}

func (t *bodyTracker) word(w string) {
	switch {
	case t.atomicDepth == 0:
		if w == "ATOMIC" && t.prev == "BEGIN" {
			t.atomicDepth = 1
		}
	case w == "BEGIN" || w == "CASE":
		t.atomicDepth++
	case w == "END":
		t.atomicDepth--
	}
	t.prev = w
}

func peek(src string, i int) byte {
	if i < len(src) {
		return src[i]
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}

func scanWord(src string, i int) int {
	for i < len(src) && isIdentChar(src[i]) {
		i++
	}
	return i
}

func skipLineComment(src string, i int) int {
	if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(src)
}

// skipBlockComment handles Postgres' nested block comments.
func skipBlockComment(src string, i int) int {
	depth := 0
	for i < len(src) {
		switch {
		case src[i] == '/' && peek(src, i+1) == '*':
			depth++
			i += 2
		case src[i] == '*' && peek(src, i+1) == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(src)
}

// skipString skips a single-quoted literal starting at the opening quote.
func skipString(src string, i int, backslash bool) int {
	i++
	for i < len(src) {
		switch src[i] {
		case '\\':
			if backslash {
				i += 2
				continue
			}
		case '\'':
			if peek(src, i+1) == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(src)
}

func skipQuotedIdent(src string, i int) int {
	i++
	for i < len(src) {
		if src[i] == '"' {
			if peek(src, i+1) == '"' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(src)
}

// dollarTag returns the $tag$ opening at i. The tag body is empty or an
// identifier that does not start with a digit, so positional parameters
// such as $1 are never mistaken for quotes.
func dollarTag(src string, i int) (string, bool) {
	j := i + 1
	if j < len(src) && src[j] == '$' {
		return "$$", true
	}
	if j >= len(src) || !isIdentStart(src[j]) {
		return "", false
	}
	for j < len(src) && src[j] != '$' {
		if !isIdentStart(src[j]) && !(src[j] >= '0' && src[j] <= '9') {
			return "", false
		}
		j++
	}
	if j >= len(src) {
		return "", false
	}
	return src[i : j+1], true
}

func skipDollar(src string, i int, tag string) int {
	body := i + len(tag)
	if k := strings.Index(src[body:], tag); k >= 0 {
		return body + k + len(tag)
	}
	return len(src)
}

// DollarTags returns every distinct dollar-quote tag that appears anywhere
// in src, without the surrounding dollars. The empty tag of $$ is reported
// as "".
func DollarTags(src string) []string {
	seen := make(map[string]bool)
	var tags []string
	for i := 0; i < len(src); i++ {
		if src[i] != '$' || (i > 0 && isIdentChar(src[i-1])) {
			continue
		}
		tag, ok := dollarTag(src, i)
		if !ok {
			continue
		}
		name := tag[1 : len(tag)-1]
		if !seen[name] {
			seen[name] = true
			tags = append(tags, name)
		}
		i += len(tag) - 1
	}
	return tags
}

// StripComments returns src with line and block comments removed. Quoted
// strings and identifiers are kept intact, so comment markers inside them
// survive.
func StripComments(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '-' && peek(src, i+1) == '-':
			j := skipLineComment(src, i)
			if j > i && src[j-1] == '\n' {
				sb.WriteByte('\n')
			}
			i = j
		case c == '/' && peek(src, i+1) == '*':
			i = skipBlockComment(src, i)
			sb.WriteByte(' ')
		case c == '\'':
			j := skipString(src, i, false)
			sb.WriteString(src[i:j])
			i = j
		case c == '"':
			j := skipQuotedIdent(src, i)
			sb.WriteString(src[i:j])
			i = j
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

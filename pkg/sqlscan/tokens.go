package sqlscan

import "strings"

// TokenKind identifies the lexical class of a Token.
type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenQuotedIdent
	TokenString
	TokenNumber
	TokenPunct
)

// Token is one lexical element of a statement body.
type Token struct {
	Kind TokenKind
	// Raw is the token exactly as written.
	Raw string
	// Upper is Raw uppercased for words and Raw otherwise.
	Upper string
}

// Is reports whether t is the keyword kw (given in upper case).
func (t Token) Is(kw string) bool {
	return t.Kind == TokenWord && t.Upper == kw
}

// Tokens lexes the statement body and returns at most n tokens, or every
// token when n <= 0. Comments are skipped. Dollar-quoted strings come back
// as a single TokenString.
func Tokens(stmt Statement, n int) []Token {
	return lex(stmt.SQL(), n)
}

// Keywords returns the first n tokens of the statement as strings: words
// uppercased, quoted identifiers and punctuation as written.
func Keywords(stmt Statement, n int) []string {
	toks := Tokens(stmt, n)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Upper
	}
	return out
}

func lex(src string, n int) []Token {
	var toks []Token
	i := 0
	for i < len(src) && (n <= 0 || len(toks) < n) {
		c := src[i]
		switch {
		case c == '-' && peek(src, i+1) == '-':
			i = skipLineComment(src, i)
		case c == '/' && peek(src, i+1) == '*':
			i = skipBlockComment(src, i)
		case isSpace(c):
			i++
		case c == '\'':
			j := skipString(src, i, false)
			toks = append(toks, Token{Kind: TokenString, Raw: src[i:j], Upper: src[i:j]})
			i = j
		case c == '"':
			j := skipQuotedIdent(src, i)
			toks = append(toks, Token{Kind: TokenQuotedIdent, Raw: src[i:j], Upper: src[i:j]})
			i = j
		case c == '$':
			if tag, ok := dollarTag(src, i); ok {
				j := skipDollar(src, i, tag)
				toks = append(toks, Token{Kind: TokenString, Raw: src[i:j], Upper: src[i:j]})
				i = j
				continue
			}
			j := i + 1
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			toks = append(toks, Token{Kind: TokenPunct, Raw: src[i:j], Upper: src[i:j]})
			i = j
		case isIdentStart(c):
			j := scanWord(src, i)
			word := src[i:j]
			if (word == "E" || word == "e") && peek(src, j) == '\'' {
				k := skipString(src, j, true)
				toks = append(toks, Token{Kind: TokenString, Raw: src[i:k], Upper: src[i:k]})
				i = k
				continue
			}
			toks = append(toks, Token{Kind: TokenWord, Raw: word, Upper: strings.ToUpper(word)})
			i = j
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, Token{Kind: TokenNumber, Raw: src[i:j], Upper: src[i:j]})
			i = j
		default:
			toks = append(toks, Token{Kind: TokenPunct, Raw: src[i : i+1], Upper: src[i : i+1]})
			i++
		}
	}
	return toks
}

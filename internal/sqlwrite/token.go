package sqlwrite

import (
	"strings"
	"unicode"
)

// tokenType is the coarse lexical class of a SQL token. The classifier
// only needs enough structure to find the statement kind, the target
// table, and the primary-key equality; it is not a SQL parser.
type tokenType int

const (
	tokenIdent tokenType = iota + 1 // bare or quoted identifier / keyword
	tokenString                     // 'single quoted' literal
	tokenNumber
	tokenPlaceholder // ?
	tokenPunct       // single punctuation rune: ( ) , = ; . * < > etc.
)

type token struct {
	typ tokenType
	// text is the token with identifier quoting removed and string
	// literals unescaped.
	text string
	// placeholderIdx is the zero-based ordinal of a ? within the
	// statement, -1 otherwise.
	placeholderIdx int
}

// isKeyword reports a case-insensitive match against an unquoted
// identifier token. Quoted identifiers never match keywords.
func (t token) isKeyword(kw string) bool {
	return t.typ == tokenIdent && strings.EqualFold(t.text, kw)
}

// tokenize splits a SQL statement into tokens. Unterminated quotes yield
// whatever was scanned so far; the classifier treats nonsense token
// streams as unclassifiable rather than erroring here.
func tokenize(sqlText string) []token {
	var tokens []token
	placeholders := 0
	i := 0
	n := len(sqlText)

	for i < n {
		c := sqlText[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			text, next := scanQuoted(sqlText, i, '\'')
			tokens = append(tokens, token{typ: tokenString, text: text, placeholderIdx: -1})
			i = next
		case c == '"':
			text, next := scanQuoted(sqlText, i, '"')
			tokens = append(tokens, token{typ: tokenIdent, text: text, placeholderIdx: -1})
			i = next
		case c == '`':
			text, next := scanQuoted(sqlText, i, '`')
			tokens = append(tokens, token{typ: tokenIdent, text: text, placeholderIdx: -1})
			i = next
		case c == '[':
			// SQL Server style bracket identifier; SQLite accepts it.
			end := strings.IndexByte(sqlText[i+1:], ']')
			if end < 0 {
				tokens = append(tokens, token{typ: tokenPunct, text: "[", placeholderIdx: -1})
				i++
			} else {
				tokens = append(tokens, token{typ: tokenIdent, text: sqlText[i+1 : i+1+end], placeholderIdx: -1})
				i += end + 2
			}
		case c == '?':
			tokens = append(tokens, token{typ: tokenPlaceholder, text: "?", placeholderIdx: placeholders})
			placeholders++
			i++
		case c == '-' && i+1 < n && sqlText[i+1] == '-':
			// Line comment runs to end of line.
			for i < n && sqlText[i] != '\n' {
				i++
			}
		case isDigit(c) || (c == '-' && i+1 < n && isDigit(sqlText[i+1])):
			start := i
			i++
			for i < n && (isDigit(sqlText[i]) || sqlText[i] == '.' || sqlText[i] == 'e' ||
				sqlText[i] == 'E' || sqlText[i] == '+' || sqlText[i] == '-') {
				// A second sign only follows an exponent marker.
				if (sqlText[i] == '+' || sqlText[i] == '-') &&
					sqlText[i-1] != 'e' && sqlText[i-1] != 'E' {
					break
				}
				i++
			}
			tokens = append(tokens, token{typ: tokenNumber, text: sqlText[start:i], placeholderIdx: -1})
		case isIdentStart(rune(c)):
			start := i
			for i < n && isIdentPart(rune(sqlText[i])) {
				i++
			}
			tokens = append(tokens, token{typ: tokenIdent, text: sqlText[start:i], placeholderIdx: -1})
		default:
			tokens = append(tokens, token{typ: tokenPunct, text: string(c), placeholderIdx: -1})
			i++
		}
	}
	return tokens
}

// scanQuoted consumes a quoted region starting at i (which holds the
// quote rune) and returns the unescaped contents and the index after the
// closing quote. A doubled quote escapes itself, per SQL.
func scanQuoted(s string, i int, quote byte) (string, int) {
	var b strings.Builder
	i++ // opening quote
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				b.WriteByte(quote)
				i += 2
				continue
			}
			return b.String(), i + 1
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String(), i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

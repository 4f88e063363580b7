package sqlscan

import (
	"strings"
	"unicode"
)

// scanner walks the input byte by byte.
type scanner struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

func newScanner(input string) *scanner {
	s := &scanner{input: input}
	s.readChar()
	return s
}

// readChar advances to the next character.
func (s *scanner) readChar() {
	if s.readPos >= len(s.input) {
		s.ch = 0 // ASCII NUL = EOF
	} else {
		s.ch = s.input[s.readPos]
	}
	s.pos = s.readPos
	s.readPos++
}

// peekChar returns the next character without advancing.
func (s *scanner) peekChar() byte {
	if s.readPos >= len(s.input) {
		return 0
	}
	return s.input[s.readPos]
}

// Scan returns the flat token stream for the input. Parentheses appear as
// punctuation tokens; use Parse for the nested tree form.
func Scan(sql string) []Token {
	s := newScanner(sql)
	var tokens []Token
	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Parse returns the token tree for the input. Parenthesized regions become
// group tokens. A missing closing parenthesis closes its group at end of
// input; a stray closing parenthesis is kept as punctuation.
func Parse(sql string) []Token {
	s := newScanner(sql)
	var stack [][]Token
	var cur []Token
	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		if tok.Kind == KindPunct {
			switch tok.Text {
			case "(":
				stack = append(stack, cur)
				cur = nil
				continue
			case ")":
				if len(stack) == 0 {
					// Unbalanced close, keep as punctuation.
					cur = append(cur, tok)
					continue
				}
				parent := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cur = append(parent, Token{Kind: KindGroup, Children: cur})
				continue
			}
		}
		cur = append(cur, tok)
	}
	// Unbalanced opens: close every pending group at EOF.
	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cur = append(parent, Token{Kind: KindGroup, Children: cur})
	}
	return cur
}

// next returns the next token, or ok=false at end of input.
func (s *scanner) next() (Token, bool) {
	s.skipWhitespaceAndComments()

	switch {
	case s.ch == 0:
		return Token{}, false
	case s.ch == '\'':
		return Token{Kind: KindString, Text: s.readString()}, true
	case s.ch == '"' || s.ch == '`' || s.ch == '_' || isLetter(s.ch):
		return s.readQualifiedIdent(), true
	case isDigit(s.ch):
		return Token{Kind: KindNumber, Text: s.readNumber()}, true
	case s.ch == '.':
		if isDigit(s.peekChar()) {
			return Token{Kind: KindNumber, Text: s.readNumber()}, true
		}
		s.readChar()
		return Token{Kind: KindPunct, Text: "."}, true
	case s.ch == '<':
		if s.peekChar() == '=' || s.peekChar() == '>' {
			op := string([]byte{s.ch, s.peekChar()})
			s.readChar()
			s.readChar()
			return Token{Kind: KindPunct, Text: op}, true
		}
		s.readChar()
		return Token{Kind: KindPunct, Text: "<"}, true
	case s.ch == '>' && s.peekChar() == '=':
		s.readChar()
		s.readChar()
		return Token{Kind: KindPunct, Text: ">="}, true
	case s.ch == '!' && s.peekChar() == '=':
		s.readChar()
		s.readChar()
		return Token{Kind: KindPunct, Text: "!="}, true
	case s.ch == '|' && s.peekChar() == '|':
		s.readChar()
		s.readChar()
		return Token{Kind: KindPunct, Text: "||"}, true
	case strings.IndexByte("+-*/%=<>,()[];:?{}", s.ch) >= 0:
		ch := s.ch
		s.readChar()
		return Token{Kind: KindPunct, Text: string(ch)}, true
	default:
		// Unknown byte sequence: lex the run as an opaque identifier so
		// parsing never fails on dialect oddities.
		return Token{Kind: KindIdent, Text: s.readOpaque()}, true
	}
}

// skipWhitespaceAndComments skips whitespace and comments.
func (s *scanner) skipWhitespaceAndComments() {
	for {
		for s.ch == ' ' || s.ch == '\t' || s.ch == '\n' || s.ch == '\r' {
			s.readChar()
		}

		// Line comment (-- ...)
		if s.ch == '-' && s.peekChar() == '-' {
			for s.ch != '\n' && s.ch != 0 {
				s.readChar()
			}
			continue
		}

		// Block comment (/* ... */)
		if s.ch == '/' && s.peekChar() == '*' {
			s.readChar()
			s.readChar()
			for {
				if s.ch == 0 {
					return // unterminated block comment
				}
				if s.ch == '*' && s.peekChar() == '/' {
					s.readChar()
					s.readChar()
					break
				}
				s.readChar()
			}
			continue
		}

		break
	}
}

// readString reads a single-quoted string literal and returns its unquoted
// value. Doubled single quotes are the escape form: 'it''s' -> it's.
func (s *scanner) readString() string {
	s.readChar() // skip opening quote

	var result strings.Builder
	for {
		if s.ch == 0 {
			break // unterminated string
		}
		if s.ch == '\'' {
			if s.peekChar() == '\'' {
				result.WriteByte('\'')
				s.readChar()
				s.readChar()
				continue
			}
			s.readChar() // skip closing quote
			break
		}
		if s.ch == '\\' && s.peekChar() != 0 {
			// Backslash escape (ClickHouse style): keep the escaped char.
			s.readChar()
			result.WriteByte(s.ch)
			s.readChar()
			continue
		}
		result.WriteByte(s.ch)
		s.readChar()
	}
	return result.String()
}

// readQualifiedIdent reads an identifier span, following dots into further
// segments so that db.schema.table lexes as a single token. Quote and
// backtick characters are preserved in the text; the identifier normalizer
// strips them later.
func (s *scanner) readQualifiedIdent() Token {
	start := s.pos
	s.readIdentSegment()
	for s.ch == '.' && isSegmentStart(s.peekChar()) {
		s.readChar() // consume '.'
		s.readIdentSegment()
	}
	text := s.input[start:s.pos]

	lower := strings.ToLower(text)
	if !strings.ContainsAny(text, ".\"`") && isKeyword(lower) {
		return Token{Kind: KindKeyword, Text: text}
	}
	return Token{Kind: KindIdent, Text: text}
}

// readIdentSegment consumes one segment: a plain word or a quoted span.
func (s *scanner) readIdentSegment() {
	switch s.ch {
	case '"':
		s.readQuotedSegment('"')
	case '`':
		s.readQuotedSegment('`')
	default:
		for isLetter(s.ch) || isDigit(s.ch) || s.ch == '_' || s.ch == '$' {
			s.readChar()
		}
	}
}

// readQuotedSegment consumes a quoted segment including its delimiters.
// Doubled delimiters are the escape form.
func (s *scanner) readQuotedSegment(quote byte) {
	s.readChar() // opening quote
	for {
		if s.ch == 0 {
			return // unterminated quoted identifier
		}
		if s.ch == quote {
			if s.peekChar() == quote {
				s.readChar()
				s.readChar()
				continue
			}
			s.readChar() // closing quote
			return
		}
		s.readChar()
	}
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (s *scanner) readNumber() string {
	start := s.pos

	for isDigit(s.ch) {
		s.readChar()
	}

	if s.ch == '.' && isDigit(s.peekChar()) {
		s.readChar()
		for isDigit(s.ch) {
			s.readChar()
		}
	}

	if s.ch == 'e' || s.ch == 'E' {
		if isDigit(s.peekChar()) || ((s.peekChar() == '+' || s.peekChar() == '-') && s.readPos+1 < len(s.input) && isDigit(s.input[s.readPos+1])) {
			s.readChar()
			if s.ch == '+' || s.ch == '-' {
				s.readChar()
			}
			for isDigit(s.ch) {
				s.readChar()
			}
		}
	}

	return s.input[start:s.pos]
}

// readOpaque reads a run of bytes that fit no other token class.
func (s *scanner) readOpaque() string {
	start := s.pos
	for s.ch != 0 && !isWhitespace(s.ch) && s.ch != '(' && s.ch != ')' && s.ch != ',' && s.ch != ';' && s.ch != '\'' {
		s.readChar()
	}
	return s.input[start:s.pos]
}

func isSegmentStart(ch byte) bool {
	return isLetter(ch) || ch == '_' || ch == '"' || ch == '`'
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

// isLetter returns true if ch is a letter.
func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

// isDigit returns true if ch is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

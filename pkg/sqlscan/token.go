// Package sqlscan lexes raw SQL text into a nested token tree.
// It is deliberately tolerant: any input produces a token tree, never an
// error. Unknown byte sequences become opaque identifier tokens and
// unbalanced parentheses degrade to a best-effort partial tree.
package sqlscan

import "fmt"

// Kind classifies a lexical token.
type Kind int

const (
	// KindKeyword is a reserved SQL word (FROM, JOIN, WITH, ...).
	KindKeyword Kind = iota
	// KindIdent is an identifier, possibly dot-qualified (db.schema.table).
	KindIdent
	// KindString is a single-quoted string literal; Text holds the
	// unquoted value.
	KindString
	// KindNumber is a numeric literal.
	KindNumber
	// KindPunct is punctuation or an operator.
	KindPunct
	// KindGroup is a parenthesized region; Children holds its tokens in
	// source order.
	KindGroup
)

// Token is one node of the token tree.
type Token struct {
	Kind     Kind
	Text     string
	Children []Token
}

// String returns a compact debug representation.
func (t Token) String() string {
	if t.Kind == KindGroup {
		return fmt.Sprintf("group(%d)", len(t.Children))
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Text)
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindKeyword:
		return "keyword"
	case KindIdent:
		return "ident"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindPunct:
		return "punct"
	case KindGroup:
		return "group"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// keywords maps lowercase reserved words to themselves. Anything else
// lexes as an identifier.
var keywords = map[string]struct{}{
	"all":       {},
	"and":       {},
	"any":       {},
	"array":     {},
	"as":        {},
	"asc":       {},
	"between":   {},
	"by":        {},
	"case":      {},
	"cross":     {},
	"delete":    {},
	"desc":      {},
	"distinct":  {},
	"else":      {},
	"end":       {},
	"except":    {},
	"final":     {},
	"from":      {},
	"full":      {},
	"global":    {},
	"group":     {},
	"having":    {},
	"ilike":     {},
	"in":        {},
	"inner":     {},
	"insert":    {},
	"intersect": {},
	"into":      {},
	"is":        {},
	"join":      {},
	"lateral":   {},
	"left":      {},
	"like":      {},
	"limit":     {},
	"not":       {},
	"null":      {},
	"offset":    {},
	"on":        {},
	"or":        {},
	"order":     {},
	"outer":     {},
	"prewhere":  {},
	"right":     {},
	"sample":    {},
	"select":    {},
	"semi":      {},
	"settings":  {},
	"then":      {},
	"union":     {},
	"update":    {},
	"using":     {},
	"when":      {},
	"where":     {},
	"with":      {},
}

// isKeyword reports whether the lowercase word is reserved.
func isKeyword(lower string) bool {
	_, ok := keywords[lower]
	return ok
}

// Package pattern folds near-duplicate queries into canonical shape
// patterns with incrementally maintained statistics. The shape of a query
// is its text with literal values masked out, so queries that differ only
// in literals share one pattern record.
package pattern

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeShape reduces a query to its pattern key: every single-quoted
// string literal becomes "?", every maximal digit run becomes "?",
// whitespace runs collapse to a single space, and the result is trimmed.
// The function is idempotent.
//
// Queries that differ only in formatting not covered by these rules (for
// example comment placement) still produce distinct keys; callers should
// treat that as an accepted limitation rather than a bug.
func NormalizeShape(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inSpace := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'':
			// Consume the whole literal, honoring doubled-quote escapes.
			i++
			for i < len(sql) {
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			b.WriteByte('?')
			inSpace = false

		case ch >= '0' && ch <= '9':
			for i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
				i++
			}
			b.WriteByte('?')
			inSpace = false

		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}

		default:
			b.WriteByte(ch)
			inSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

// Fingerprint returns a short stable identifier for a pattern key,
// suitable for display and for keying persisted pattern rows.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

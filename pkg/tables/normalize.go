// Package tables extracts physical table references from SQL statements.
// It walks the sqlscan token tree, tracking FROM/JOIN clause context and
// lexically scoped CTE names, and emits every lookup variant of each
// referenced table name so downstream model mapping can match whichever
// qualification level it knows about.
package tables

import "strings"

// CleanIdentifier strips quote and backtick characters from a raw
// identifier span and drops a trailing alias. The alias boundary is the
// first whitespace character that is not immediately preceded by a dot.
func CleanIdentifier(raw string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '`', '"', '\'':
			return -1
		}
		return r
	}, raw)

	for i, r := range clean {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		if i > 0 && clean[i-1] == '.' {
			continue
		}
		clean = clean[:i]
		break
	}

	return strings.TrimSpace(clean)
}

// NameVariants returns every shorter-form lookup variant of a dotted
// qualified name, lowercased:
//
//	table                -> {table}
//	schema.table         -> {schema.table, table}
//	db.schema.table      -> {db.schema.table, schema.table, table}
//
// Names with more than three segments keep only the last three. The
// returned slice is ordered longest (most qualified) first.
func NameVariants(raw string) []string {
	clean := strings.ToLower(CleanIdentifier(raw))
	if clean == "" {
		return nil
	}

	parts := strings.Split(clean, ".")
	// Drop empty segments from malformed names like "a..b" or "a.".
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	parts = kept
	if len(parts) == 0 {
		return nil
	}
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}

	variants := make([]string, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		variants = append(variants, strings.Join(parts[i:], "."))
	}
	return variants
}

// BaseName returns the shortest variant of a qualified name: the bare
// table name, lowercased.
func BaseName(raw string) string {
	variants := NameVariants(raw)
	if len(variants) == 0 {
		return ""
	}
	return variants[len(variants)-1]
}

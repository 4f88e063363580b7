package tables

import (
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/querysight/pkg/sqlscan"
)

// DefaultLookupFunctions is the default allow-list of lookup-like
// functions whose first string argument names a table dependency wherever
// the call appears. A trailing "*" matches any suffix; the ClickHouse
// dictGet family is the motivating case.
var DefaultLookupFunctions = []string{"dictget*"}

// Options configures an Extractor.
type Options struct {
	// LookupFunctions is the allow-list of lookup-like function names
	// (lowercase, optional trailing "*" wildcard). Leave nil to disable.
	LookupFunctions []string
	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

// DefaultOptions returns Options with the default lookup allow-list.
func DefaultOptions() Options {
	return Options{LookupFunctions: DefaultLookupFunctions}
}

// Extractor finds physical table references in SQL statements. It is
// stateless across calls: each Extract invocation threads its own scope,
// so one Extractor is safe to reuse and to share between goroutines.
type Extractor struct {
	lookupExact  map[string]struct{}
	lookupPrefix []string
	logger       *slog.Logger
}

// NewExtractor creates an Extractor with the given options.
func NewExtractor(opts Options) *Extractor {
	e := &Extractor{
		lookupExact: make(map[string]struct{}),
	}
	for _, name := range opts.LookupFunctions {
		name = strings.ToLower(name)
		if suffix, ok := strings.CutSuffix(name, "*"); ok {
			if suffix != "" {
				e.lookupPrefix = append(e.lookupPrefix, suffix)
			}
			continue
		}
		e.lookupExact[name] = struct{}{}
	}
	e.logger = opts.Logger
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Extract returns the sorted set of lowercase table-name variants
// referenced by the statement, including nested subqueries and CTE
// bodies. CTE names never appear in the result. Extraction never fails:
// malformed SQL degrades to a best-effort partial result.
func Extract(sql string) []string {
	return NewExtractor(DefaultOptions()).Extract(sql)
}

// Extract returns the sorted set of lowercase table-name variants
// referenced by the statement.
func (e *Extractor) Extract(sql string) []string {
	refs := make(map[string]struct{})
	e.walkStatement(sqlscan.Parse(sql), nil, refs)

	out := make([]string, 0, len(refs))
	for ref := range refs {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

// clause tracks whether the walker just passed a FROM or JOIN keyword.
type clause int

const (
	clauseNone clause = iota
	clauseFrom
	clauseJoin
)

// cteScope is the set of CTE names visible at the current nesting level.
// It is cloned on every recursive descent so sibling branches never see
// each other's names.
type cteScope map[string]struct{}

func (s cteScope) clone() cteScope {
	c := make(cteScope, len(s)+2)
	for name := range s {
		c[name] = struct{}{}
	}
	return c
}

// walkStatement processes one statement level: a CTE pre-scan followed by
// the main clause-tracking walk. The inherited scope is extended locally
// and never mutated for the caller.
func (e *Extractor) walkStatement(tokens []sqlscan.Token, inherited cteScope, refs map[string]struct{}) {
	scope := inherited.clone()
	start := e.preScanCTEs(tokens, scope, refs)
	e.mainWalk(tokens[start:], scope, refs)
}

// preScanCTEs registers the names of a leading WITH clause in scope and
// recursively processes each CTE body. It returns the index where the
// main statement resumes. Malformed WITH clauses stop the pre-scan early
// and let the main walk pick up from there.
func (e *Extractor) preScanCTEs(tokens []sqlscan.Token, scope cteScope, refs map[string]struct{}) int {
	if len(tokens) == 0 || tokens[0].Kind != sqlscan.KindKeyword || !strings.EqualFold(tokens[0].Text, "with") {
		return 0
	}

	i := 1
	if i < len(tokens) && tokens[i].Kind == sqlscan.KindIdent && strings.EqualFold(tokens[i].Text, "recursive") {
		i++
	}

	for i < len(tokens) {
		if tokens[i].Kind != sqlscan.KindIdent {
			return i
		}
		name := strings.ToLower(CleanIdentifier(tokens[i].Text))
		i++

		// Optional column list: name (a, b) AS (...)
		if i < len(tokens) && tokens[i].Kind == sqlscan.KindGroup {
			i++
		}

		if i >= len(tokens) || tokens[i].Kind != sqlscan.KindKeyword || !strings.EqualFold(tokens[i].Text, "as") {
			return i - 1
		}
		i++

		if i >= len(tokens) || tokens[i].Kind != sqlscan.KindGroup {
			return i
		}

		// The name is visible inside its own body (recursive CTEs) and
		// to every later definition at this level.
		if name != "" {
			scope[name] = struct{}{}
		}
		e.walkStatement(tokens[i].Children, scope, refs)
		i++

		if i < len(tokens) && tokens[i].Kind == sqlscan.KindPunct && tokens[i].Text == "," {
			i++
			continue
		}
		return i
	}
	return i
}

// mainWalk traverses one token level, tracking FROM/JOIN context.
func (e *Extractor) mainWalk(tokens []sqlscan.Token, scope cteScope, refs map[string]struct{}) {
	cl := clauseNone
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Kind {
		case sqlscan.KindKeyword:
			switch strings.ToLower(tok.Text) {
			case "from":
				cl = clauseFrom
			case "join":
				cl = clauseJoin
			}

		case sqlscan.KindGroup:
			if cl != clauseNone {
				// Subquery in FROM/JOIN position, possibly the head of a
				// comma-separated list.
				i = e.consumeCandidate(tokens, i, scope, refs)
				cl = clauseNone
				continue
			}
			// Expression group: walked with the current names as the
			// inherited scope.
			e.walkStatement(tok.Children, scope, refs)

		case sqlscan.KindIdent:
			if cl != clauseNone {
				i = e.consumeCandidate(tokens, i, scope, refs)
				cl = clauseNone
				continue
			}
			if i+1 < len(tokens) && tokens[i+1].Kind == sqlscan.KindGroup {
				// Function call. ref/source and allow-listed lookups
				// contribute in any clause position; other calls are not
				// table references (their argument groups are walked when
				// the loop reaches them).
				e.applyFunctionCall(tok, tokens[i+1], refs)
				continue
			}

		case sqlscan.KindString, sqlscan.KindNumber:
			// FROM 'file.csv' and friends: not a table reference.
			cl = clauseNone

		case sqlscan.KindPunct:
			// Punctuation never changes clause context.
		}
	}
}

// consumeCandidate consumes the table-reference production following a
// FROM/JOIN keyword starting at tokens[i], then any further
// comma-separated members. Each member is a plain identifier, a function
// call (ref/source/lookup calls contribute their targets), or a subquery
// group, optionally followed by an alias. It returns the index of the
// last consumed token.
func (e *Extractor) consumeCandidate(tokens []sqlscan.Token, i int, scope cteScope, refs map[string]struct{}) int {
	for {
		var j int
		switch {
		case tokens[i].Kind == sqlscan.KindGroup:
			// Subquery member.
			e.walkStatement(tokens[i].Children, scope, refs)
			j = i + 1
		case i+1 < len(tokens) && tokens[i+1].Kind == sqlscan.KindGroup:
			// Function call member.
			e.applyFunctionCall(tokens[i], tokens[i+1], refs)
			e.walkStatement(tokens[i+1].Children, scope, refs)
			j = i + 2
		default:
			e.addReference(tokens[i].Text, scope, refs)
			j = i + 1
		}

		if j < len(tokens) && tokens[j].Kind == sqlscan.KindKeyword && strings.EqualFold(tokens[j].Text, "as") {
			j++
		}
		if j < len(tokens) && tokens[j].Kind == sqlscan.KindIdent {
			// Bare alias.
			j++
		}

		if j < len(tokens) && tokens[j].Kind == sqlscan.KindPunct && tokens[j].Text == "," {
			if j+1 < len(tokens) && (tokens[j+1].Kind == sqlscan.KindIdent || tokens[j+1].Kind == sqlscan.KindGroup) {
				i = j + 1
				continue
			}
			return j
		}
		return j - 1
	}
}

// addReference normalizes a qualified identifier and records its lookup
// variants, unless its base name is a CTE visible in the current scope.
func (e *Extractor) addReference(raw string, scope cteScope, refs map[string]struct{}) {
	variants := NameVariants(raw)
	if len(variants) == 0 {
		return
	}
	base := variants[len(variants)-1]
	if _, isCTE := scope[base]; isCTE {
		e.logger.Debug("skipping CTE reference", "name", base)
		return
	}
	for _, v := range variants {
		refs[v] = struct{}{}
	}
}

// applyFunctionCall records the structural dependency named by a ref(),
// source(), or allow-listed lookup call. The argument already names a
// model or dictionary canonically, so it is added directly rather than
// through variant expansion.
func (e *Extractor) applyFunctionCall(name sqlscan.Token, args sqlscan.Token, refs map[string]struct{}) {
	fn := strings.ToLower(CleanIdentifier(name.Text))
	strs := stringArgs(args.Children)

	switch fn {
	case "ref":
		if len(strs) >= 1 && strs[0] != "" {
			refs[strings.ToLower(strs[0])] = struct{}{}
		}
	case "source":
		if len(strs) >= 2 && strs[0] != "" && strs[1] != "" {
			refs[strings.ToLower(strs[0]+"."+strs[1])] = struct{}{}
		}
	default:
		if e.isLookupFunction(fn) && len(strs) >= 1 && strs[0] != "" {
			refs[strings.ToLower(strs[0])] = struct{}{}
		}
	}
}

// stringArgs returns the string-literal children of an argument group in
// source order.
func stringArgs(tokens []sqlscan.Token) []string {
	var out []string
	for _, tok := range tokens {
		if tok.Kind == sqlscan.KindString {
			out = append(out, tok.Text)
		}
	}
	return out
}

// isLookupFunction reports whether the lowercase function name is on the
// lookup allow-list.
func (e *Extractor) isLookupFunction(name string) bool {
	if _, ok := e.lookupExact[name]; ok {
		return true
	}
	for _, prefix := range e.lookupPrefix {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

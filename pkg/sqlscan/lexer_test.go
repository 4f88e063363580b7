package sqlscan

import "testing"

func findIdent(tokens []Token, text string) bool {
	for _, t := range tokens {
		if t.Kind == KindIdent && t.Text == text {
			return true
		}
	}
	return false
}

func TestScan_BasicSelect(t *testing.T) {
	tokens := Scan("SELECT id, name FROM users WHERE age > 21")

	want := []struct {
		kind Kind
		text string
	}{
		{KindKeyword, "SELECT"},
		{KindIdent, "id"},
		{KindPunct, ","},
		{KindIdent, "name"},
		{KindKeyword, "FROM"},
		{KindIdent, "users"},
		{KindKeyword, "WHERE"},
		{KindIdent, "age"},
		{KindPunct, ">"},
		{KindNumber, "21"},
	}

	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(tokens), tokens)
	}
	for i, w := range want {
		if tokens[i].Kind != w.kind || tokens[i].Text != w.text {
			t.Errorf("token %d: expected %v(%q), got %v(%q)", i, w.kind, w.text, tokens[i].Kind, tokens[i].Text)
		}
	}
}

func TestScan_QualifiedIdentifierIsOneToken(t *testing.T) {
	tokens := Scan("SELECT * FROM db.schema.table")
	if !findIdent(tokens, "db.schema.table") {
		t.Errorf("expected single qualified identifier token, got %v", tokens)
	}
}

func TestScan_QuotedAndBacktickedIdentifiers(t *testing.T) {
	tokens := Scan("SELECT * FROM `my_db`.`my_table` JOIN \"other\".\"t\"")
	if !findIdent(tokens, "`my_db`.`my_table`") {
		t.Errorf("backticked identifier not preserved: %v", tokens)
	}
	if !findIdent(tokens, "\"other\".\"t\"") {
		t.Errorf("quoted identifier not preserved: %v", tokens)
	}
}

func TestScan_StringLiteralUnquoted(t *testing.T) {
	tokens := Scan("SELECT 'it''s a value'")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %v", tokens)
	}
	if tokens[1].Kind != KindString || tokens[1].Text != "it's a value" {
		t.Errorf("expected unquoted string value, got %v(%q)", tokens[1].Kind, tokens[1].Text)
	}
}

func TestScan_CommentsSkipped(t *testing.T) {
	tokens := Scan("SELECT 1 -- trailing\n/* block */ FROM t")
	for _, tok := range tokens {
		if tok.Kind == KindIdent && (tok.Text == "trailing" || tok.Text == "block") {
			t.Errorf("comment content leaked into tokens: %v", tokens)
		}
	}
	if !findIdent(tokens, "t") {
		t.Errorf("token after comment missing: %v", tokens)
	}
}

func TestScan_NumberForms(t *testing.T) {
	tokens := Scan("SELECT 1, 45.67, 1e10, .5")
	var nums []string
	for _, tok := range tokens {
		if tok.Kind == KindNumber {
			nums = append(nums, tok.Text)
		}
	}
	want := []string{"1", "45.67", "1e10", ".5"}
	if len(nums) != len(want) {
		t.Fatalf("expected %v, got %v", want, nums)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Errorf("number %d: expected %q, got %q", i, want[i], nums[i])
		}
	}
}

func TestParse_GroupsNested(t *testing.T) {
	tokens := Parse("SELECT * FROM (SELECT * FROM (SELECT 1))")
	// Top level: SELECT * FROM <group>
	last := tokens[len(tokens)-1]
	if last.Kind != KindGroup {
		t.Fatalf("expected trailing group, got %v", last)
	}
	inner := last.Children[len(last.Children)-1]
	if inner.Kind != KindGroup {
		t.Fatalf("expected nested group, got %v", inner)
	}
	if len(inner.Children) != 2 || inner.Children[0].Kind != KindKeyword {
		t.Errorf("unexpected inner group contents: %v", inner.Children)
	}
}

func TestParse_UnbalancedOpenClosesAtEOF(t *testing.T) {
	tokens := Parse("SELECT * FROM (SELECT * FROM a.b")
	last := tokens[len(tokens)-1]
	if last.Kind != KindGroup {
		t.Fatalf("expected open paren to form a group at EOF, got %v", tokens)
	}
	if !findIdent(last.Children, "a.b") {
		t.Errorf("group lost its contents: %v", last.Children)
	}
}

func TestParse_StrayCloseKeptAsPunct(t *testing.T) {
	tokens := Parse("SELECT 1 ) FROM t")
	found := false
	for _, tok := range tokens {
		if tok.Kind == KindPunct && tok.Text == ")" {
			found = true
		}
	}
	if !found {
		t.Errorf("stray close paren dropped: %v", tokens)
	}
	if !findIdent(tokens, "t") {
		t.Errorf("tokens after stray close lost: %v", tokens)
	}
}

func TestScan_OpaqueUnknownSequence(t *testing.T) {
	tokens := Scan("SELECT @@weird#stuff FROM t")
	if len(tokens) == 0 {
		t.Fatal("no tokens")
	}
	// The unknown run must survive as an identifier token, not be dropped.
	if !findIdent(tokens, "@@weird#stuff") {
		t.Errorf("opaque sequence not preserved: %v", tokens)
	}
	if !findIdent(tokens, "t") {
		t.Errorf("lexing did not recover after opaque run: %v", tokens)
	}
}

func TestScan_TemplateBracesArePunct(t *testing.T) {
	tokens := Scan("select * from {{ ref('stg_orders') }}")
	braces := 0
	for _, tok := range tokens {
		if tok.Kind == KindPunct && (tok.Text == "{" || tok.Text == "}") {
			braces++
		}
	}
	if braces != 4 {
		t.Errorf("expected 4 brace puncts, got %d in %v", braces, tokens)
	}
	if !findIdent(tokens, "ref") {
		t.Errorf("ref not lexed as identifier: %v", tokens)
	}
}

func TestScan_EmptyInput(t *testing.T) {
	if tokens := Scan(""); len(tokens) != 0 {
		t.Errorf("expected no tokens for empty input, got %v", tokens)
	}
	if tokens := Parse("   \n\t"); len(tokens) != 0 {
		t.Errorf("expected no tokens for blank input, got %v", tokens)
	}
}

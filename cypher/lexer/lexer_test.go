package lexer

import "testing"

func kinds(t *testing.T, src string) []Token {
	t.Helper()
	toks, err := Tokenize(src)
	if err != nil {
		t.Fatalf("tokenize %q: %v", src, err)
	}
	return toks
}

func TestKeywordsCaseInsensitive(t *testing.T) {
	toks := kinds(t, "match RETURN Where")
	for i, want := range []string{"MATCH", "RETURN", "WHERE"} {
		if toks[i].Kind != Keyword || toks[i].Text != want {
			t.Fatalf("token %d = %v, want keyword %s", i, toks[i], want)
		}
	}
}

func TestRangeVersusFloat(t *testing.T) {
	// `1..2` is Int, .., Int; `1.2` is a single Float.
	toks := kinds(t, "1..2")
	if toks[0].Kind != Int || toks[0].Text != "1" {
		t.Fatalf("first = %v", toks[0])
	}
	if toks[1].Kind != Op || toks[1].Text != ".." {
		t.Fatalf("second = %v", toks[1])
	}
	if toks[2].Kind != Int || toks[2].Text != "2" {
		t.Fatalf("third = %v", toks[2])
	}

	toks = kinds(t, "1.2")
	if toks[0].Kind != Float || toks[0].Text != "1.2" {
		t.Fatalf("float = %v", toks[0])
	}
}

func TestTwoCharOperators(t *testing.T) {
	toks := kinds(t, "<> <= >= -> <- ..")
	want := []string{"<>", "<=", ">=", "->", "<-", ".."}
	for i, op := range want {
		if toks[i].Kind != Op || toks[i].Text != op {
			t.Fatalf("token %d = %v, want %s", i, toks[i], op)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	toks := kinds(t, `'it\'s' "a\"b"`)
	if toks[0].Kind != String || toks[0].Text != "it's" {
		t.Fatalf("single-quoted = %v", toks[0])
	}
	if toks[1].Kind != String || toks[1].Text != `a"b` {
		t.Fatalf("double-quoted = %v", toks[1])
	}
}

func TestParameters(t *testing.T) {
	toks := kinds(t, "$name $x1")
	if toks[0].Kind != Parameter || toks[0].Text != "name" {
		t.Fatalf("param = %v", toks[0])
	}
	if toks[1].Kind != Parameter || toks[1].Text != "x1" {
		t.Fatalf("param = %v", toks[1])
	}
}

func TestIdentifiers(t *testing.T) {
	toks := kinds(t, "foo _bar baz42")
	for i, want := range []string{"foo", "_bar", "baz42"} {
		if toks[i].Kind != Ident || toks[i].Text != want {
			t.Fatalf("ident %d = %v", i, toks[i])
		}
	}
}

func TestUnterminatedStringFails(t *testing.T) {
	if _, err := Tokenize("'oops"); err == nil {
		t.Fatal("unterminated string accepted")
	}
}

func TestFullQueryTokenStream(t *testing.T) {
	toks := kinds(t, `MATCH (n:Person {name: 'Alice'})-[:KNOWS*1..3]->(m) RETURN m.name`)
	// Ends with EOF token.
	if toks[len(toks)-1].Kind != EOF {
		t.Fatalf("missing EOF: %v", toks[len(toks)-1])
	}
}

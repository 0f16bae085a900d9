package filter

import (
	"testing"

	"github.com/kartikbazzad/docstore/document"
)

func data(kv map[string]document.Value) map[string]document.Value { return kv }

func TestNilFilterMatchesAll(t *testing.T) {
	if !Matches(nil, data(map[string]document.Value{})) {
		t.Fatal("expected nil filter to match")
	}
}

func TestEqNe(t *testing.T) {
	d := data(map[string]document.Value{"status": document.NewString("active")})
	if !Matches(Field(OpEq, "status", document.NewString("active")), d) {
		t.Fatal("expected eq match")
	}
	if Matches(Field(OpEq, "status", document.NewString("inactive")), d) {
		t.Fatal("expected eq mismatch")
	}
	if !Matches(Field(OpNe, "status", document.NewString("inactive")), d) {
		t.Fatal("expected ne match")
	}
}

func TestNumericPromotionInComparisons(t *testing.T) {
	d := data(map[string]document.Value{"age": document.NewInt(30)})
	if !Matches(Field(OpGt, "age", document.NewFloat(25.5)), d) {
		t.Fatal("expected int field > float literal to promote and match")
	}
	if !Matches(Field(OpLte, "age", document.NewInt(30)), d) {
		t.Fatal("expected lte match on equal ints")
	}
}

func TestIncompatibleKindComparisonIsFalseNotError(t *testing.T) {
	d := data(map[string]document.Value{"name": document.NewString("ada")})
	if Matches(Field(OpGt, "name", document.NewInt(5)), d) {
		t.Fatal("expected string-vs-int Gt to be false")
	}
}

func TestExists(t *testing.T) {
	d := data(map[string]document.Value{"name": document.NewString("ada")})
	if !Matches(ExistsNode("name", true), d) {
		t.Fatal("expected name to exist")
	}
	if !Matches(ExistsNode("missing", false), d) {
		t.Fatal("expected missing field to not exist")
	}
}

func TestInNin(t *testing.T) {
	d := data(map[string]document.Value{"role": document.NewString("admin")})
	vals := []document.Value{document.NewString("admin"), document.NewString("user")}
	if !Matches(InNode(false, "role", vals), d) {
		t.Fatal("expected role in [admin, user]")
	}
	if Matches(InNode(true, "role", vals), d) {
		t.Fatal("expected nin to be false when value is in the set")
	}
}

func TestRegexMatchesStringsOnly(t *testing.T) {
	d := data(map[string]document.Value{
		"email": document.NewString("ada@example.com"),
		"age":   document.NewInt(30),
	})
	if !Matches(RegexNode("email", `^[^@]+@example\.com$`), d) {
		t.Fatal("expected regex to match email")
	}
	if Matches(RegexNode("age", `\d+`), d) {
		t.Fatal("expected regex against non-string field to be false")
	}
}

func TestNestedPathAndAbsentOnNonMapIntermediate(t *testing.T) {
	d := data(map[string]document.Value{
		"address": document.NewMap(map[string]document.Value{
			"city": document.NewString("nyc"),
		}),
		"tag": document.NewString("x"),
	})
	if !Matches(Field(OpEq, "address.city", document.NewString("nyc")), d) {
		t.Fatal("expected nested path to resolve")
	}
	if Matches(ExistsNode("tag.sub", true), d) {
		t.Fatal("expected traversal through non-map intermediate to be absent")
	}
}

func TestAndShortCircuitsOrShortCircuits(t *testing.T) {
	d := data(map[string]document.Value{"a": document.NewInt(1)})
	and := And(Field(OpEq, "a", document.NewInt(1)), Field(OpEq, "missing", document.NewInt(2)))
	if Matches(and, d) {
		t.Fatal("expected And to fail when one child fails")
	}
	or := Or(Field(OpEq, "a", document.NewInt(1)), Field(OpEq, "missing", document.NewInt(2)))
	if !Matches(or, d) {
		t.Fatal("expected Or to succeed when one child succeeds")
	}
}

func TestNot(t *testing.T) {
	d := data(map[string]document.Value{"a": document.NewInt(1)})
	if Matches(NotNode(Field(OpEq, "a", document.NewInt(1))), d) {
		t.Fatal("expected Not to invert a true child")
	}
	if !Matches(NotNode(Field(OpEq, "a", document.NewInt(2))), d) {
		t.Fatal("expected Not to invert a false child")
	}
}

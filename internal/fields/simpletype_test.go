package fields

import "testing"

func TestInferSimpleType(t *testing.T) {
	cases := []struct {
		in   string
		key  bool
		want SimpleType
	}{
		{"boolean", false, SimpleTypeBoolean},
		{"BIT", false, SimpleTypeBoolean},
		{"integer", false, SimpleTypeNumber},
		{"numeric(12,2)", false, SimpleTypeNumber},
		{"double precision", false, SimpleTypeNumber},
		{"int4[]", false, SimpleTypeNumber},
		{"date", false, SimpleTypeDate},
		{"timestamp(6) with time zone", false, SimpleTypeDatetime},
		{"time without time zone", false, SimpleTypeTime},
		{"character varying(50)", false, SimpleTypeString},
		{"uuid", false, SimpleTypeString},
		{"jsonb", false, SimpleTypeString},
		{"integer", true, SimpleTypeKey},
	}
	for _, tc := range cases {
		if got := InferSimpleType(tc.in, tc.key); got != tc.want {
			t.Errorf("InferSimpleType(%q, %v) = %s, want %s", tc.in, tc.key, got, tc.want)
		}
	}
}

func TestParseNaturalKey(t *testing.T) {
	key, err := ParseNaturalKey("tests.employee.is_manager")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key != (NaturalKey{Namespace: "tests", Model: "employee", Field: "is_manager"}) {
		t.Fatalf("unexpected key %+v", key)
	}
	if key.String() != "tests.employee.is_manager" {
		t.Fatalf("unexpected string %s", key.String())
	}
	for _, raw := range []string{"", "a.b", "a..c", "a.b.c.d"} {
		if _, err := ParseNaturalKey(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestHumanize(t *testing.T) {
	if got := Humanize("first_name"); got != "First Name" {
		t.Fatalf("got %q", got)
	}
	if got := Humanize("IS-MANAGER"); got != "Is Manager" {
		t.Fatalf("got %q", got)
	}
}

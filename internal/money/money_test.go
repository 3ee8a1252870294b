package money

import "testing"

func TestCentsFromString(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0.10", 10},
		{"0.1", 10},
		{"12", 1200},
		{"12.34", 1234},
		{"$1,234.56", 123456},
		{"-3.05", -305},
		{"$-3.05", -305},
		{"0.00", 0},
	}
	for _, c := range cases {
		got, err := CentsFromString(c.in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: expected %d, got %d", c.in, c.want, got)
		}
	}
}

func TestCentsFromStringRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", "12.", "$$1.00"} {
		if _, err := CentsFromString(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestStringFromCents(t *testing.T) {
	if got := StringFromCents(10); got != "0.10" {
		t.Fatalf("expected 0.10, got %q", got)
	}
	if got := StringFromCents(123456); got != "1234.56" {
		t.Fatalf("expected 1234.56, got %q", got)
	}
	if got := StringFromCents(-305); got != "-3.05" {
		t.Fatalf("expected -3.05, got %q", got)
	}
	if got := StringFromCents(0); got != "0.00" {
		t.Fatalf("expected 0.00, got %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 101, 123456} {
		got, err := CentsFromString(StringFromCents(cents))
		if err != nil {
			t.Fatalf("round trip %d: %v", cents, err)
		}
		if got != cents {
			t.Fatalf("round trip %d: got %d", cents, got)
		}
	}
}

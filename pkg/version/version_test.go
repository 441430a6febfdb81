package version

import "testing"

func mustParse(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return v
}

func TestCompareLaws(t *testing.T) {
	specimens := []string{"1.0", "1.0-1", "1.0-2", "1.0~rc1", "1.0a", "1.0b", "0:1.0", "1:0", "2.0", "10.0", "1:1.0-1", "1:1.0-2"}
	versions := make([]Version, len(specimens))
	for i, s := range specimens {
		versions[i] = mustParse(t, s)
	}
	for _, a := range versions {
		if Compare(a, a) != 0 {
			t.Errorf("Compare(%v, %v) = %d, want 0", a, a, Compare(a, a))
		}
		for _, b := range versions {
			if Compare(a, b) != -Compare(b, a) {
				t.Errorf("antisymmetry violated for %v, %v", a, b)
			}
		}
	}
}

func TestCompareOrder(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0-1", -1},
		{"1.0-1", "1.0-2", -1},
		{"1.0~rc1", "1.0", -1},
		{"1.0a", "1.0b", -1},
		{"0:1.0", "1:0", -1},
		{"1:1.0-1", "1:1.0-2", -1},
		{"2.0", "10.0", -1},
		{"1.0~beta", "1.0", -1},
		{"1.0a", "1.0", 1},
	}
	for _, c := range cases {
		a := mustParse(t, c.a)
		b := mustParse(t, c.b)
		got := Compare(a, b)
		if sign(got) != c.want {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", " ", "a1.0", "1.0 extra", ":1.0", "1.0:"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error", s)
		}
	}
}

func TestParseEpoch(t *testing.T) {
	v := mustParse(t, "3:1.2-4")
	if v.Epoch != 3 || v.Upstream != "1.2" || v.Revision != "4" {
		t.Errorf("unexpected parse: %+v", v)
	}
}

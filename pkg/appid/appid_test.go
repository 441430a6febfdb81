package appid

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"com.example.foo", false},
		{"com.endlessm.photos", false},
		{"org.gnome.Maps-2", false},
		{"foo", true},         // no dot: not reverse-DNS
		{"", true},            // empty
		{".com.example", true}, // leading dot
		{"com.example.", true}, // trailing dot
		{"1com.example", true}, // segment starting with digit
		{"com..example", true}, // empty segment
	}
	for _, c := range cases {
		_, err := Parse(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
		}
	}
}

func TestIsLegal(t *testing.T) {
	if !IsLegal("com.example.foo") {
		t.Error("expected com.example.foo to be legal")
	}
	if IsLegal("../etc/passwd") {
		t.Error("expected path traversal attempt to be rejected")
	}
}

package intercept

import "testing"

func TestParseHost(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"192.168.1.1:443", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"[::1]", "::1"},
		{"localhost", "localhost"},
		{"example.com:notaport", "example.com:notaport"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ParseHost(c.in); got != c.want {
			t.Errorf("ParseHost(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

package gateway

import "testing"

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{
		"",
		"plain",
		"has space",
		`quote"mark`,
		"percent%sign",
		"amp&ersand",
		"apos'trophe",
		"slash/es",
		"colon:here",
		"angle<bracket>",
		"at@sign",
		`back\slash`,
		"mixed @user:example.org \"x\" & 'y' / <z>",
	}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			t.Parallel()
			got := Unescape(Escape(s))
			if got != s {
				t.Fatalf("round trip broke: Escape(%q) = %q, Unescape(...) = %q", s, Escape(s), got)
			}
		})
	}
}

// TestEscapeBitExact pins the wire format spec §4.7/§6 requires: lowercase
// two-hex-digit escapes, no percent-encoding.
func TestEscapeBitExact(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"a b":   `a\20b`,
		"a%b":   `a\25b`,
		"a@b":   `a\40b`,
		`a\b`:   `a\5cb`,
		"plain": "plain",
	}
	for in, want := range tests {
		if got := Escape(in); got != want {
			t.Fatalf("Escape(%q) = %q, want %q", in, got, want)
		}
	}
}

package textutil

import "testing"

func TestSanitizeText(t *testing.T) {
	cases := map[string]string{
		"":                                  "",
		"  plain  ":                         "plain",
		"<b>Ada</b> Lovelace":               "Ada Lovelace",
		"<script>alert(1)</script>hello":    "hello",
		"O'Reilly & Sons":                   "O'Reilly & Sons",
		`<a href="javascript:x()">link</a>`: "link",
	}
	for input, want := range cases {
		if got := SanitizeText(input); got != want {
			t.Fatalf("SanitizeText(%q) = %q, want %q", input, got, want)
		}
	}
}

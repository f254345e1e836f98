package model

import "testing"

func TestSessionFileName(t *testing.T) {
	cases := []struct {
		phone string
		want  string
	}{
		{"+1 555 123 4567", "15551234567.session"},
		{"79261234567", "79261234567.session"},
		{"+7 (926) 123-45-67", "79261234567.session"},
	}
	for _, c := range cases {
		if got := SessionFileName(c.phone); got != c.want {
			t.Fatalf("SessionFileName(%q) = %q, want %q", c.phone, got, c.want)
		}
	}
}

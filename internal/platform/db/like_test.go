package db

import "testing"

func TestContainsPattern(t *testing.T) {
	tests := []struct {
		term string
		want string
	}{
		{"TR-2024", `%TR-2024%`},
		{"%", `%\%%`},
		{"S_1", `%S\_1%`},
		{`a\b`, `%a\\b%`},
		{"", `%%`},
	}
	for _, tt := range tests {
		if got := ContainsPattern(tt.term); got != tt.want {
			t.Errorf("ContainsPattern(%q) = %q, want %q", tt.term, got, tt.want)
		}
	}
}

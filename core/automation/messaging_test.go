package automation

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"00495551234567", "+495551234567"},
		{"5551234567", "+5551234567"},
		{"123", "123"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitName(t *testing.T) {
	first, last := SplitName("Ada Lovelace King")
	if first != "Ada" || last != "Lovelace King" {
		t.Fatalf("got %q %q", first, last)
	}
	first, last = SplitName("Cher")
	if first != "Cher" || last != "" {
		t.Fatalf("got %q %q", first, last)
	}
	first, last = SplitName("  ")
	if first != "" || last != "" {
		t.Fatalf("got %q %q", first, last)
	}
}

package util

import "testing"

func TestPhoneDigits(t *testing.T) {
	cases := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"5534999990000", "5534999990000", true},
		{"+5534999990000", "5534999990000", true},
		{"+55 34 99999-0000", "5534999990000", true},
		{"(34) 99999.0000", "34999990000", true},
		{"5534999990000@s.whatsapp.net", "5534999990000", true},
		{"5534999990000:17@s.whatsapp.net", "5534999990000", true},
		{"  5534999990000  ", "5534999990000", true},
		{"", "", false},
		{"1234", "", false},
		{"1234567890123456", "", false},
		{"0e8b0c6a-9a51-4e4c-a7c4-6a1b2f3c4d5e", "", false},
		{"abc5534999990000", "", false},
	}
	for _, c := range cases {
		got, ok := PhoneDigits(c.in)
		if ok != c.wantOK || got != c.want {
			t.Fatalf("PhoneDigits(%q) = %q,%v want %q,%v", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestPhoneDigitsFormattingInvariant(t *testing.T) {
	inputs := []string{
		"5534999990000",
		"+5534999990000",
		"+55 34 99999 0000",
		"55-34-99999-0000",
		"5534999990000@s.whatsapp.net",
	}
	for _, in := range inputs {
		got, ok := PhoneDigits(in)
		if !ok || got != "5534999990000" {
			t.Fatalf("PhoneDigits(%q) = %q,%v", in, got, ok)
		}
	}
}

func TestE164AndJID(t *testing.T) {
	if got := E164("5534999990000"); got != "+5534999990000" {
		t.Fatalf("E164 = %q", got)
	}
	if got := E164(""); got != "" {
		t.Fatalf("E164 empty = %q", got)
	}
	if got := WhatsAppJID("5534999990000"); got != "5534999990000@s.whatsapp.net" {
		t.Fatalf("WhatsAppJID = %q", got)
	}
}

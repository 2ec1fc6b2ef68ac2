package bio

import "testing"

func TestHashTitleSetsBit31(t *testing.T) {
	h := HashTitle("MyBank")
	if h&0x80000000 == 0 {
		t.Fatalf("HashTitle(%q) = %#x, bit 31 not set", "MyBank", h)
	}
}

func TestHashValueClearsBit31(t *testing.T) {
	h := HashValue("MyCondition")
	if h&0x80000000 != 0 {
		t.Fatalf("HashValue(%q) = %#x, bit 31 set", "MyCondition", h)
	}
}

func TestHashIsCaseInsensitive(t *testing.T) {
	if HashValue("condition_name") != HashValue("CONDITION_NAME") {
		t.Fatal("HashValue is not case-insensitive")
	}
}

func TestHashTitleValueShareLow31Bits(t *testing.T) {
	title := HashTitle("shared")
	value := HashValue("shared")
	if title&0x7FFFFFFF != value&0x7FFFFFFF {
		t.Fatalf("HashTitle/HashValue diverge in their low 31 bits for the same string: %#x vs %#x", title, value)
	}
}

func TestFormatParseHashRoundTrip(t *testing.T) {
	for _, h := range []uint32{0, 1, 0xDEADBEEF, 0x7FFFFFFF, 0xFFFFFFFF} {
		s := FormatHash(h)
		got, err := ParseHash(s)
		if err != nil {
			t.Fatalf("ParseHash(%q) failed: %v", s, err)
		}
		if got != h {
			t.Errorf("ParseHash(FormatHash(%#x)) = %#x, want %#x", h, got, h)
		}
	}
}

func TestParseHashAcceptsBareHex(t *testing.T) {
	got, err := ParseHash("DEADBEEF")
	if err != nil {
		t.Fatalf("ParseHash(%q) failed: %v", "DEADBEEF", err)
	}
	if got != 0xDEADBEEF {
		t.Errorf("ParseHash(%q) = %#x, want 0xDEADBEEF", "DEADBEEF", got)
	}
}

func TestParseHashRejectsInvalidDigits(t *testing.T) {
	if _, err := ParseHash("0xZZZZ"); err == nil {
		t.Fatal("ParseHash(\"0xZZZZ\") succeeded, want error")
	}
}

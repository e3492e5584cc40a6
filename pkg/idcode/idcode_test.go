package idcode

import "testing"

func TestParseIDCode(t *testing.T) {
	cases := []struct {
		raw     uint32
		version uint8
		part    uint16
		mfg     uint16
		bank    int
		valid   bool
	}{
		{0x120F30DD, 1, 0x20F3, 0x06E, 0, true},
		{0x4BA00477, 4, 0xBA00, 0x23B, 4, true},
		{0x00000000, 0, 0x0000, 0x000, 0, false},
		{0xFFFFFFFF, 15, 0xFFFF, 0x7FF, 15, false},
	}
	for _, tc := range cases {
		id := ParseIDCode(tc.raw)
		if id.Version != tc.version || id.PartNumber != tc.part || id.ManufacturerCode != tc.mfg || id.Bank() != tc.bank {
			t.Errorf("ParseIDCode(0x%08X) = %+v, bank %d", tc.raw, id, id.Bank())
		}
		if id.Valid() != tc.valid {
			t.Errorf("ParseIDCode(0x%08X).Valid() = %v", tc.raw, id.Valid())
		}
	}
	if s := ParseIDCode(0x020A10DD).String(); s != "0x020A10DD (mfg 0x06E, part 0x20A1, ver 0)" {
		t.Errorf("String = %q", s)
	}
}

func TestLookupManufacturer(t *testing.T) {
	if m, ok := LookupManufacturer(0x06E); !ok || m.Name != "Altera" {
		t.Fatalf("LookupManufacturer(0x06E) = %+v, %v", m, ok)
	}
	m, ok := LookupManufacturer(0x7FF)
	if ok || m.Name != "Unknown (0x7FF)" {
		t.Fatalf("LookupManufacturer(0x7FF) = %+v, %v", m, ok)
	}
}

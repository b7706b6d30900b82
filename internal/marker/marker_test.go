package marker

import "testing"

func TestSample_Row(t *testing.T) {
	s := Sample{Timestamp: 1234567, Kind: Blue, Lat: 45.5, Lon: -122.25, Alt: 12.5}
	got := s.Row()
	want := "1234567,1,BLUE,45.500000000,-122.250000000,12.5000"
	if got != want {
		t.Fatalf("row=%q want %q", got, want)
	}
}

func TestKind_Names(t *testing.T) {
	if Yellow.String() != "YELLOW" || Blue.String() != "BLUE" || Orange.String() != "ORANGE" {
		t.Fatalf("unexpected names")
	}
	if Kind(7).String() != "UNKNOWN_CONE" {
		t.Fatalf("unexpected unknown name %q", Kind(7).String())
	}
	if Kind(7).Valid() {
		t.Fatalf("expected kind 7 invalid")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("ORANGE")
	if err != nil || k != Orange {
		t.Fatalf("k=%v err=%v", k, err)
	}
	k, err = ParseKind("1")
	if err != nil || k != Blue {
		t.Fatalf("k=%v err=%v", k, err)
	}
	if _, err := ParseKind("green"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRow(t *testing.T) {
	in := Sample{Timestamp: 99, Kind: Orange, Lat: 45.123456789, Lon: 9.5, Alt: 210.25}
	got, err := ParseRow(in.Row())
	if err != nil {
		t.Fatalf("ParseRow: %v", err)
	}
	if got != in {
		t.Fatalf("got=%+v want %+v", got, in)
	}

	got, err = ParseRow(" 5, 0 ,YELLOW, 1.5 , 2.5")
	if err != nil || got.Alt != 0 || got.Kind != Yellow || got.Lon != 2.5 {
		t.Fatalf("short row got=%+v err=%v", got, err)
	}

	for _, bad := range []string{
		Header,
		"1,0,YELLOW,1.0",
		"1,9,GREEN,1.0,2.0",
		"1,0,YELLOW,north,2.0",
		"1,0,YELLOW,1.0,2.0,high",
	} {
		if _, err := ParseRow(bad); err == nil {
			t.Fatalf("ParseRow(%q): expected error", bad)
		}
	}
}

package domain

import "testing"

func TestPositionSideDerivedFromSignedVolume(t *testing.T) {
	long := &Position{Volume: 0.5}
	if long.Side() != OrderSideBuy {
		t.Fatalf("positive volume should be BUY, got %s", long.Side())
	}
	if long.CloseSide() != OrderSideSell {
		t.Fatalf("close side of long should be SELL, got %s", long.CloseSide())
	}

	short := &Position{Volume: -1.2}
	if short.Side() != OrderSideSell {
		t.Fatalf("negative volume should be SELL, got %s", short.Side())
	}
	if short.CloseSide() != OrderSideBuy {
		t.Fatalf("close side of short should be BUY, got %s", short.CloseSide())
	}
	if short.AbsVolume() != 1.2 {
		t.Fatalf("abs volume should drop the sign, got %f", short.AbsVolume())
	}
}

func TestParseTriggerChain(t *testing.T) {
	cases := []struct {
		name    string
		encoded string
		want    []string
	}{
		{"empty", "", nil},
		{"single", "a1", []string{"a1"}},
		{"ordered", "a1,a2,a3", []string{"a1", "a2", "a3"}},
		{"spaces_and_blanks", " a1 ,, a2 ,", []string{"a1", "a2"}},
		{"only_blanks", " , ,", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseTriggerChain(tc.encoded)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}

package workbook

import "testing"

func TestNormalizeDateTime(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"2024-03-01 09:30":     "2024-03-01 09:30",
		"  2024-03-01 09:30 ":  "2024-03-01 09:30",
		"2024-03-01 09:30:59":  "2024-03-01 09:30",
		"2024/03/01 09:30":     "2024-03-01 09:30",
		"2024-03-01T09:30:00Z": "2024-03-01 09:30",
		"2024-03-01":           "2024-03-01 00:00",
		"45292":                "2024-01-01 00:00",
		"45292.5":              "2024-01-01 12:00",
		"yesterday":            "yesterday",
		"2024-02-30 10:00":     "2024-02-30 10:00",
		"-3":                   "-3",
	}
	for in, want := range cases {
		if got := NormalizeDateTime(in); got != want {
			t.Fatalf("NormalizeDateTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDateTimeIsIdempotent(t *testing.T) {
	for _, in := range []string{"2024-03-01 09:30", "45292.25", "2024/12/31 23:59", "garbage", "2024-03-01T09:30"} {
		once := NormalizeDateTime(in)
		if twice := NormalizeDateTime(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

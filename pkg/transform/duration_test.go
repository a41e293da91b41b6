package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
)

func TestParseHours(t *testing.T) {
	cases := []struct {
		iso  string
		want float64
	}{
		{"", 0},
		{"PT0H0M0S", 0},
		{"PT40H0M0S", 40},
		{"PT4H30M0S", 4.5},
		{"PT0H0M1800S", 0.5},
		{"P1DT0H0M0S", 8},
		{"P2DT4H0M0S", 20},
		{"P1W", 40},
		{"P1WT2H", 42},
		{"PT2.5H", 2.5},
		{"-PT8H", -8},
	}

	for _, tc := range cases {
		got, err := ParseHours(tc.iso)
		if err != nil {
			t.Fatalf("ParseHours(%q) failed: %v", tc.iso, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ParseHours(%q) = %v, want %v", tc.iso, got, tc.want)
		}
	}
}

func TestParseHoursRejectsMalformedInput(t *testing.T) {
	for _, iso := range []string{"T40H", "P10", "PTH", "P1X", "PT1D", "1DT", "P1TT2H"} {
		_, err := ParseHours(iso)
		var merr *migrate.Error
		if !errors.As(err, &merr) || merr.Code != migrate.ErrCodeValidation {
			t.Fatalf("ParseHours(%q): expected validation error, got %v", iso, err)
		}
	}
}

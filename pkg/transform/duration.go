package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
)

// Working-time conversions for calendar-unit durations.
const (
	hoursPerDay  = 8
	hoursPerWeek = 40
)

// ParseHours normalizes an ISO-8601 duration to hours. The reporting feed
// emits forms like "PT40H0M0S" and "P2DT4H0M0S"; day and week designators are
// converted at working-time rates. An empty string is zero hours.
func ParseHours(iso string) (float64, error) {
	if iso == "" {
		return 0, nil
	}

	s := iso
	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, parseError(iso)
	}
	s = s[1:]

	var hours float64
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r == 'T':
			if inTime || num != "" {
				return 0, parseError(iso)
			}
			inTime = true
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		default:
			if num == "" {
				return 0, parseError(iso)
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, parseError(iso)
			}
			num = ""
			switch {
			case !inTime && r == 'W':
				hours += v * hoursPerWeek
			case !inTime && r == 'D':
				hours += v * hoursPerDay
			case inTime && r == 'H':
				hours += v
			case inTime && r == 'M':
				hours += v / 60
			case inTime && r == 'S':
				hours += v / 3600
			default:
				return 0, parseError(iso)
			}
		}
	}
	if num != "" {
		return 0, parseError(iso)
	}

	if negative {
		hours = -hours
	}
	return hours, nil
}

func parseError(iso string) error {
	return migrate.NewDataError(fmt.Sprintf("unparseable duration %q", iso), nil).
		WithCode(migrate.ErrCodeValidation).WithPhase(migrate.PhaseTransform)
}

// RescaleUnits converts a source capacity fraction to the destination's
// percentage convention.
func RescaleUnits(fraction float64) float64 {
	return fraction * 100
}

// UnitsFromPercent is the inverse of RescaleUnits.
func UnitsFromPercent(percent float64) float64 {
	return percent / 100
}

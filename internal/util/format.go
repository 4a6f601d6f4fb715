package util

import (
	"math"
	"strconv"
	"strings"
)

// maxDSLength is the DICOM limit for one Decimal String value.
const maxDSLength = 16

// FormatDS formats f as a DICOM Decimal String: at most 16 characters, no
// exponent when avoidable, and never "-0".
func FormatDS(f float64) string {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	s := strings.TrimRight(strings.TrimRight(strconv.FormatFloat(f, 'f', 6, 64), "0"), ".")
	if s == "-0" || s == "0" {
		return "0"
	}
	if len(s) <= maxDSLength {
		return s
	}
	for prec := 10; prec > 0; prec-- {
		s = strconv.FormatFloat(f, 'g', prec, 64)
		if len(s) <= maxDSLength {
			return s
		}
	}
	return s
}

// FormatDSList formats each value with FormatDS.
func FormatDSList(values ...float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = FormatDS(v)
	}
	return out
}

// FormatIS formats i as a DICOM Integer String.
func FormatIS(i int) string {
	return strconv.Itoa(i)
}

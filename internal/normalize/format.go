package normalize

import (
	"fmt"
	"math"
	"strconv"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte quantity at binary scale with at most two
// decimals, trailing zeros trimmed. Exact zero short-circuits to "0 B" so no
// scale computation runs on it.
func FormatBytes(v float64) string {
	if v == 0 {
		return "0 B"
	}

	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}

	rounded := math.Round(v*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatSpeed is FormatBytes with a per-second suffix on the unit.
func FormatSpeed(v float64) string {
	if v == 0 {
		return "0 B/s"
	}
	return FormatBytes(v) + "/s"
}

func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

package app

import "fmt"

// FormatSize renders n bytes with binary prefixes, e.g. "1.50 KiB".
func FormatSize(n int64) string {
	v := float64(n)
	for _, unit := range []string{"", "Ki", "Mi", "Gi", "Ti", "Pi", "Ei"} {
		if v < 1024 && v > -1024 {
			return fmt.Sprintf("%3.2f %sB", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f ZiB", v)
}

package core

import (
	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count with binary units, e.g. "1.9 GiB".
// Negative values are treated as zero.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatCount renders large counts with thousands separators, e.g. "1,131".
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

package wbh

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TempPrefix starts every chunk temp file name.
const TempPrefix = "WBHTF"

// TempChunkName returns the temp file name for chunk index of an upload
// started at t: WBHTF<YYYYmmddHHMMSS><microseconds>.p<4-digit index>.
func TempChunkName(t time.Time, index int) string {
	return fmt.Sprintf("%s%s%06d.p%04d", TempPrefix, t.Format("20060102150405"), t.Nanosecond()/1000, index)
}

// IsTempChunkName reports whether name looks like a file TempChunkName produced,
// so a startup sweep can delete leftovers safely.
func IsTempChunkName(name string) bool {
	if !strings.HasPrefix(name, TempPrefix) {
		return false
	}
	ext := filepath.Ext(name)
	return len(ext) == 6 && strings.HasPrefix(ext, ".p")
}

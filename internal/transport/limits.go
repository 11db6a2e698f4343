package transport

import (
	"fmt"
	"unicode/utf8"

	"wbh-go/internal/wbh"
)

// checkMessage rejects text longer than limit characters.
func checkMessage(text string, limit int) error {
	if n := utf8.RuneCountInString(text); limit > 0 && n > limit {
		return fmt.Errorf("%w: message of %d characters exceeds limit %d", wbh.ErrTransport, n, limit)
	}
	return nil
}

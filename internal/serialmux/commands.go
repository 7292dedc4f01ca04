package serialmux

import (
	"fmt"
	"strings"
)

// Sentence frames a proprietary NMEA command body as $BODY*CS, adding the
// XOR checksum receivers require. Bodies that are already framed are
// returned unchanged.
func Sentence(body string) string {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "$") {
		return body
	}
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, cs)
}

// IsSentence reports whether line looks like an NMEA sentence.
func IsSentence(line string) bool {
	return strings.HasPrefix(line, "$") || strings.HasPrefix(line, "!")
}

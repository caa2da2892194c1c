package content

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Slugify converts a title to a URL-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// newToken returns a generated slug for entries without a usable one.
func newToken() string {
	return "entry-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

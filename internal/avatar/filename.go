package avatar

import (
	"fmt"
	"strings"
	"time"
)

// DeriveFilename picks a fallback filename from the URL path.
func DeriveFilename(u SanitizedURL, now time.Time) string {
	name := u.Path
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Sprintf("avatar_%d.jpg", now.Unix())
	}
	if !strings.Contains(name, ".") {
		name += ".jpg"
	}
	return name
}

package reporting

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOutputPath returns reports/<class>_<day>.<ext> for a report written at now
func DefaultOutputPath(class string, now time.Time, ext string) string {
	c := strings.ToLower(strings.TrimSpace(class))
	if c == "" {
		c = "pipeline"
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "xlsx"
	}
	return filepath.Join("reports", fmt.Sprintf("%s_%s.%s", c, now.Format("2006-01-02"), ext))
}

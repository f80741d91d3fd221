package retrieval

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultScreenshotPath names a screenshot of rawURL taken at now:
// <dir>/screenshot_<host with dots and colons as underscores>_<YYYYMMDD_HHMMSS>.png
func DefaultScreenshotPath(dir, rawURL string, now time.Time) string {
	host := "page"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.NewReplacer(".", "_", ":", "_").Replace(host)
	name := fmt.Sprintf("screenshot_%s_%s.png", host, now.Format("20060102_150405"))
	return filepath.Join(dir, name)
}

// writeScreenshot writes png to dest, creating parent directories, and returns
// the absolute path.
func writeScreenshot(dest string, png []byte) (string, error) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %q: %w", abs, err)
	}
	if err := os.WriteFile(abs, png, 0o644); err != nil {
		return "", fmt.Errorf("write %q: %w", abs, err)
	}
	return abs, nil
}

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".bmp":  {},
}

// ListImages returns all image-like files under root, sorted by path so that
// angle_000.jpg .. angle_315.jpg come back in capture order.
func ListImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := imageExts[ext]; ok {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// bearingPattern matches the rig's capture naming, e.g. angle_045.jpg or
// angle-315.jpg.
var bearingPattern = regexp.MustCompile(`angle[_-](\d+(?:\.\d+)?)`)

// ParseBearing extracts the bearing in degrees encoded in a capture
// filename. The second return is false when the name carries no bearing.
func ParseBearing(path string) (float64, bool) {
	m := bearingPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	deg, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return deg, true
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// IsDir reports whether path is an existing directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

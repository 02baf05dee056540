package disk

import (
	"os"
	"path/filepath"
	"strings"
)

// DirSize calculates the total size and item count of a directory. Files
// whose name ends with skipSuffix are left out; an empty suffix counts all.
func DirSize(path, skipSuffix string) (int64, int) {
	var size int64
	var count int
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if skipSuffix != "" && strings.HasSuffix(info.Name(), skipSuffix) {
			return nil
		}
		size += info.Size()
		count++
		return nil
	})
	return size, count
}

// partials sums the interrupted downloads in dir.
func partials(dir string) (int64, int) {
	var size int64
	var count int
	matches, _ := filepath.Glob(filepath.Join(dir, "*.temp"))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			size += info.Size()
			count++
		}
	}
	return size, count
}

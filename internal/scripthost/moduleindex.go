package scripthost

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// Index walks a module search root and returns every script-eligible file
// (extension .py, per the document contract) underneath it, for a
// namespace's import-by-name resolution. Grounded on the teacher's
// providers/filesystem/search.go fastwalk.Walk usage.
func Index(root string) ([]string, error) {
	var files []string
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".py" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scripthost: index module root %s: %w", root, err)
	}
	return files, nil
}

// Resolve finds the script file under root matching a slash-separated
// import name, supporting doublestar glob expansion (e.g. "pkg/**/foo").
// Dots in the name are not treated as separators.
func Resolve(root, importName string) (string, error) {
	pattern := filepath.Join(root, filepath.FromSlash(importName)+".py")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return "", fmt.Errorf("scripthost: resolve import %q: %w", importName, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("scripthost: import %q not found under %s", importName, root)
	}
	return matches[0], nil
}

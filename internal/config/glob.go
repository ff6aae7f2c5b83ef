package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExpandPaths resolves the arguments of the scan command into a sorted,
// de-duplicated list of regular files. Each argument may be a file, a glob
// pattern or a directory; directories are walked recursively, skipping
// hidden entries.
func ExpandPaths(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no paths provided")
	}

	seen := make(map[string]struct{})
	var files []string
	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		files = append(files, path)
	}

	for _, arg := range args {
		candidates := []string{arg}
		if strings.ContainsAny(arg, "*?[") {
			matches, err := filepath.Glob(arg)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no matches for pattern %q", arg)
			}
			candidates = matches
		}

		for _, path := range candidates {
			info, err := os.Stat(path)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(path)
				continue
			}
			if err := walkDir(path, add); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func walkDir(root string, add func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			add(path)
		}
		return nil
	})
}

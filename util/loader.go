// Package util - Filesystem helpers for locating dataset images.
package util

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ImageExtensions are the file extensions (lower case, with dot) treated as source images.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// ImageFile represents an image file found under a dataset root.
type ImageFile struct {
	// Path is the absolute or root-joined path to the image file.
	Path string
	// RelPath is Path relative to the walked root, using forward slashes.
	RelPath string
}

// IsImageFile reports whether name carries one of ImageExtensions, ignoring case.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ListImageFiles recursively walks root and returns every image file below it.
//
// Arguments:
// - root: Directory path containing image files, at any depth.
//
// Returns:
// - []ImageFile: Image files sorted by RelPath.
// - error: Error if root cannot be walked.
func ListImageFiles(root string) ([]ImageFile, error) {
	var files []ImageFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImageFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, ImageFile{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to walk %s", root)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})

	return files, nil
}

// Package attachment removes uploaded files referenced by deleted messages.
package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"localboard/pkg/types"
)

// URLPrefix is the public path under which uploads are served
const URLPrefix = "/uploads/"

// DiskRemover deletes attachment files from a local upload directory
type DiskRemover struct {
	dir string
}

// NewDiskRemover returns a remover rooted at dir
func NewDiskRemover(dir string) *DiskRemover {
	return &DiskRemover{dir: filepath.Clean(dir)}
}

// Path maps an attachment URL to its file on disk. Only flat file names
// directly under URLPrefix are accepted.
func (d *DiskRemover) Path(url string) (string, error) {
	if !types.IsValidAttachmentURL(url) {
		return "", types.ErrInvalidAttachment
	}
	return filepath.Join(d.dir, strings.TrimPrefix(url, URLPrefix)), nil
}

// Remove deletes the file behind url. A file that is already gone is not
// an error.
func (d *DiskRemover) Remove(url string) error {
	path, err := d.Path(url)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove attachment %s: %w", url, err)
	}
	return nil
}

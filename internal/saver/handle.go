package saver

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// writeHandle creates the directory chain of name under the granted
// directory and writes the file. Only the final segment is sanitized.
func (s *FileSaver) writeHandle(r io.Reader, name string) (err error) {
	dir := s.caps.Directory
	if dir == nil {
		return ErrNoDirectoryHandle
	}

	segments := strings.Split(name, "/")
	fileName := segments[len(segments)-1]
	if fileName == "" {
		fileName = uuid.NewString()
	}

	parent := "/"
	for _, segment := range segments[:len(segments)-1] {
		if segment == "" {
			continue
		}
		parent = path.Join(parent, segment)
	}
	if parent != "/" {
		if err := dir.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", parent, err)
		}
	}

	target := path.Join(parent, Sanitize(fileName, false))
	f, err := dir.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", target, closeErr)
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

package saver

import (
	"context"
	"fmt"
	"io"

	"convert-web/internal/logging"
)

func (s *FileSaver) deliverLink(ctx context.Context, r io.Reader, name string) error {
	url, err := s.caps.Links.CreateURL(ctx, name, r)
	if err != nil {
		return fmt.Errorf("create link for %s: %w", name, err)
	}

	if s.settings.KeepInMemory && s.opts.Links != nil {
		s.opts.Links.Add(Link{Name: name, URL: url})
	}

	if err := s.caps.Links.Click(ctx, url, name); err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}

	if s.settings.RevokeObjectURL {
		if err := s.caps.Links.Revoke(url); err != nil {
			logging.Warn("Failed to revoke %s: %v", url, err)
		}
	}
	return nil
}

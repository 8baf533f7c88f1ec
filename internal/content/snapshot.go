package content

import (
	"errors"
	"io/fs"
	"time"

	"github.com/keithlinneman/vitesheet/internal/slug"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// Snapshot is an immutable view of one content tree.
type Snapshot struct {
	FS       fs.FS
	Meta     Meta
	Index    *Index
	LoadedAt time.Time
}

// Page reads the page bound to id. It fails with ErrPageNotFound when the
// snapshot has no page for id.
func (s *Snapshot) Page(id slug.Slug) ([]byte, Page, error) {
	if s.Index == nil {
		return nil, Page{}, xerrors.Wrapf(ErrPageNotFound, "page %q", id)
	}
	p, ok := s.Index.Lookup(id)
	if !ok {
		return nil, Page{}, xerrors.Wrapf(ErrPageNotFound, "page %q", id)
	}
	data, err := fs.ReadFile(s.FS, p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Page{}, xerrors.Wrapf(ErrPageNotFound, "page %q", id)
	}
	if err != nil {
		return nil, Page{}, xerrors.Wrapf(err, "read page %s", p.Path)
	}
	return data, p, nil
}

package content

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/vitesheet/internal/slug"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// DefaultPagePattern matches every markdown file in the tree.
const DefaultPagePattern = "**/*.md"

// Page is one markdown file bound to a registered slug.
type Page struct {
	Slug  slug.Slug `json:"slug"`
	Path  string    `json:"path"`
	Title string    `json:"title"`
	Size  int64     `json:"size"`
}

// Index maps registered slugs to the pages found in a content tree.
// Files that matched the page pattern but could not be bound to a slug are
// kept in Unknown; second and later files for the same slug in Duplicates.
type Index struct {
	pages      map[slug.Slug]Page
	Unknown    []string
	Duplicates []string
}

func (ix *Index) Len() int { return len(ix.pages) }

func (ix *Index) Lookup(id slug.Slug) (Page, bool) {
	p, ok := ix.pages[id]
	return p, ok
}

// Pages returns the indexed pages ordered by slug.
func (ix *Index) Pages() []Page {
	out := make([]Page, 0, len(ix.pages))
	for _, p := range ix.pages {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Page) int { return strings.Compare(string(a.Slug), string(b.Slug)) })
	return out
}

// Missing returns the registered slugs that have no page, sorted.
func (ix *Index) Missing() []slug.Slug {
	var out []slug.Slug
	for _, id := range slug.All() {
		if _, ok := ix.pages[id]; !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Complete reports whether every registered slug has a page.
func (ix *Index) Complete() bool { return len(ix.pages) == slug.Len() }

// BuildIndex walks fsys and indexes every file matching pattern, skipping
// dot directories. The slug of a page is its base name without extension.
// An empty pattern means DefaultPagePattern.
func BuildIndex(fsys fs.FS, pattern string) (*Index, error) {
	if pattern == "" {
		pattern = DefaultPagePattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, xerrors.Newf("invalid page pattern %q", pattern)
	}

	ix := &Index{pages: make(map[slug.Slug]Page)}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if hiddenDir(p) {
				return fs.SkipDir
			}
			return nil
		}
		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		base := path.Base(p)
		id, err := slug.Parse(strings.TrimSuffix(base, path.Ext(base)))
		if err != nil {
			ix.Unknown = append(ix.Unknown, p)
			return nil
		}
		if _, dup := ix.pages[id]; dup {
			ix.Duplicates = append(ix.Duplicates, p)
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return xerrors.Wrapf(err, "read %s", p)
		}
		title, err := pageTitle(data)
		if err != nil {
			return xerrors.Wrapf(err, "front matter in %s", p)
		}
		if title == "" {
			title = string(id)
		}
		ix.pages[id] = Page{Slug: id, Path: p, Title: title, Size: int64(len(data))}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "index pages")
	}
	return ix, nil
}

// hiddenDir reports dot directories such as .git, which are never content.
func hiddenDir(p string) bool {
	return p != "." && strings.HasPrefix(path.Base(p), ".")
}

type frontMatter struct {
	Title string `yaml:"title"`
}

// pageTitle returns the front matter title, else the first level-one
// heading, else "".
func pageTitle(data []byte) (string, error) {
	fm, body, ok := splitFrontMatter(data)
	if ok {
		var meta frontMatter
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return "", err
		}
		if t := strings.TrimSpace(meta.Title); t != "" {
			return t, nil
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if t, found := strings.CutPrefix(line, "# "); found {
			return strings.TrimSpace(t), nil
		}
	}
	return "", nil
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// body. ok is false when there is no complete block.
func splitFrontMatter(data []byte) (fm, body []byte, ok bool) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	rest, found := bytes.CutPrefix(data, []byte("---\n"))
	if !found {
		rest, found = bytes.CutPrefix(data, []byte("---\r\n"))
	}
	if !found {
		return nil, data, false
	}

	for off := 0; off < len(rest); {
		end := bytes.IndexByte(rest[off:], '\n')
		var line []byte
		next := len(rest)
		if end >= 0 {
			line = rest[off : off+end]
			next = off + end + 1
		} else {
			line = rest[off:]
		}
		if string(bytes.TrimRight(line, "\r")) == "---" {
			return rest[:off], rest[next:], true
		}
		off = next
	}
	return nil, data, false
}

type manifest struct {
	Version string `yaml:"version"`
}

// ManifestName is the optional file at the root of a content tree that
// carries the content version.
const ManifestName = "manifest.yaml"

// readManifestVersion returns the version from ManifestName, or "" when the
// file is absent.
func readManifestVersion(fsys fs.FS) (string, error) {
	data, err := fs.ReadFile(fsys, ManifestName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", xerrors.Wrapf(err, "read %s", ManifestName)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return "", xerrors.Wrapf(err, "parse %s", ManifestName)
	}
	return strings.TrimSpace(m.Version), nil
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/vitesheet/internal/content"
	"github.com/keithlinneman/vitesheet/internal/slug"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

type checkOptions struct {
	Validation content.ValidationOptions
	Jobs       int
}

type pageProblem struct {
	Slug    slug.Slug `json:"slug"`
	Path    string    `json:"path"`
	Problem string    `json:"problem"`
}

type report struct {
	OK         bool          `json:"ok"`
	Hash       string        `json:"hash"`
	Version    string        `json:"version,omitempty"`
	Pages      int           `json:"pages"`
	Registered int           `json:"registered"`
	Unknown    []string      `json:"unknown"`
	Duplicates []string      `json:"duplicates"`
	Missing    []slug.Slug   `json:"missing"`
	BadPages   []pageProblem `json:"bad_pages"`
	Errors     []string      `json:"errors"`
}

// check validates snap against the registry and reads every bound page
// concurrently, flagging unreadable or blank bodies.
func check(ctx context.Context, snap *content.Snapshot, opts checkOptions) (*report, error) {
	if snap == nil || snap.Index == nil {
		return nil, xerrors.New("snapshot has no page index")
	}
	ix := snap.Index
	rep := &report{
		Hash:       snap.Meta.Hash,
		Version:    snap.Meta.Version,
		Pages:      ix.Len(),
		Registered: slug.Len(),
		Unknown:    append([]string{}, ix.Unknown...),
		Duplicates: append([]string{}, ix.Duplicates...),
		Missing:    append([]slug.Slug{}, ix.Missing()...),
		BadPages:   []pageProblem{},
		Errors:     []string{},
	}
	if err := content.ValidateSnapshot(snap, opts.Validation); err != nil {
		for _, e := range unjoin(err) {
			rep.Errors = append(rep.Errors, e.Error())
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}
	for _, p := range ix.Pages() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if problem := checkPage(snap, p); problem != "" {
				mu.Lock()
				rep.BadPages = append(rep.BadPages, pageProblem{Slug: p.Slug, Path: p.Path, Problem: problem})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(rep.BadPages, func(i, j int) bool { return rep.BadPages[i].Slug < rep.BadPages[j].Slug })

	rep.OK = len(rep.Errors) == 0 && len(rep.BadPages) == 0
	return rep, nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func checkPage(snap *content.Snapshot, p content.Page) string {
	data, _, err := snap.Page(p.Slug)
	switch {
	case err != nil:
		return "unreadable: " + err.Error()
	case len(bytes.TrimSpace(stripFrontMatter(data))) == 0:
		return "empty body"
	default:
		return ""
	}
}

// stripFrontMatter drops a leading "---" block so a page holding only
// metadata counts as empty.
func stripFrontMatter(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return data
	}
	rest := data[len("---\n"):]
	if end := bytes.Index(rest, []byte("\n---")); end >= 0 {
		rest = rest[end+len("\n---"):]
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			return rest[i+1:]
		}
		return nil
	}
	return data
}

func (r *report) print(w io.Writer) {
	status := "ok"
	if !r.OK {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s: %d/%d slugs have pages (hash %s)\n", status, r.Pages, r.Registered, shortHash(r.Hash))
	for _, u := range r.Unknown {
		fmt.Fprintf(w, "unknown slug file: %s\n", u)
	}
	for _, d := range r.Duplicates {
		fmt.Fprintf(w, "duplicate slug file: %s\n", d)
	}
	for _, m := range r.Missing {
		fmt.Fprintf(w, "missing page: %s\n", m)
	}
	for _, b := range r.BadPages {
		fmt.Fprintf(w, "bad page %s (%s): %s\n", b.Slug, b.Path, b.Problem)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Command slugcheck lints a content directory or .tar.gz bundle against the
// slug registry before it is published.
//
//	slugcheck [-complete] [-pattern '**/*.md'] [-json] <dir|bundle.tar.gz>
//	slugcheck -list
//
// Exit status is 0 when the content passes, 1 when it has problems and 2 on
// usage or load errors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/keithlinneman/vitesheet/internal/content"
	"github.com/keithlinneman/vitesheet/internal/slug"
)

const (
	exitOK       = 0
	exitProblems = 1
	exitUsage    = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("slugcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	list := fs.Bool("list", false, "print the registered slugs and exit")
	pattern := fs.String("pattern", content.DefaultPagePattern, "doublestar pattern selecting page files")
	complete := fs.Bool("complete", false, "fail when any registered slug has no page")
	minPages := fs.Int("min-pages", 1, "fail when fewer pages are bound to slugs")
	jobs := fs.Int("jobs", runtime.GOMAXPROCS(0), "pages checked concurrently")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *list {
		for _, s := range slug.Strings() {
			fmt.Fprintln(stdout, s)
		}
		return exitOK
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: slugcheck [flags] <dir|bundle.tar.gz>")
		fs.PrintDefaults()
		return exitUsage
	}

	snap, err := load(fs.Arg(0), *pattern)
	if err != nil {
		fmt.Fprintln(stderr, "slugcheck:", err)
		return exitUsage
	}

	rep, err := check(ctx, snap, checkOptions{
		Validation: content.ValidationOptions{MinPages: *minPages, RequireComplete: *complete},
		Jobs:       *jobs,
	})
	if err != nil {
		fmt.Fprintln(stderr, "slugcheck:", err)
		return exitUsage
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintln(stderr, "slugcheck:", err)
			return exitUsage
		}
	} else {
		rep.print(stdout)
	}
	if !rep.OK {
		return exitProblems
	}
	return exitOK
}

func load(target, pattern string) (*content.Snapshot, error) {
	if strings.HasSuffix(target, ".tar.gz") || strings.HasSuffix(target, ".tgz") {
		return content.LoadBundleFile(target, pattern)
	}
	return content.LoadDir(target, pattern)
}

package content

import (
	"errors"
	"strings"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// ValidationOptions controls which checks ValidateSnapshot performs.
type ValidationOptions struct {
	// MinPages rejects trees with fewer indexed pages. 0 disables the check.
	MinPages int

	// RequireComplete fails validation when any registered slug has no page.
	RequireComplete bool
}

// DefaultValidationOptions returns the production defaults.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{MinPages: 1}
}

// ValidateSnapshot checks a snapshot before it is published. Structural
// problems (nil snapshot, FS or index) are returned alone; content problems
// are all reported, joined.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has nil filesystem")
	}
	ix := snap.Index
	if ix == nil {
		return xerrors.New("validate: snapshot has no page index")
	}

	var errs []error
	if len(ix.Unknown) > 0 {
		errs = append(errs, xerrors.Newf("validate: %d page(s) with unregistered slugs: %s",
			len(ix.Unknown), strings.Join(ix.Unknown, ", ")))
	}
	if len(ix.Duplicates) > 0 {
		errs = append(errs, xerrors.Newf("validate: %d duplicate page(s): %s",
			len(ix.Duplicates), strings.Join(ix.Duplicates, ", ")))
	}
	if opts.MinPages > 0 && ix.Len() < opts.MinPages {
		errs = append(errs, xerrors.Newf("validate: %d page(s), minimum is %d", ix.Len(), opts.MinPages))
	}
	if opts.RequireComplete {
		if missing := ix.Missing(); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, m := range missing {
				names[i] = string(m)
			}
			errs = append(errs, xerrors.Newf("validate: %d registered slug(s) without a page: %s",
				len(missing), strings.Join(names, ", ")))
		}
	}
	return errors.Join(errs...)
}

package slug

import (
	"regexp"
	"slices"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

// Slug is a registered content identifier, e.g. "basic-setup".
type Slug string

const (
	AssetsInclude            Slug = "assets-include"
	BasicSetup               Slug = "basic-setup"
	CheatSheet               Slug = "cheat-sheet"
	DynamicImports           Slug = "dynamic-imports"
	Configuration            Slug = "configuration"
	CoreFeatures             Slug = "core-features"
	CreateViteServer         Slug = "create-vite-server"
	CreatingATextPlugin      Slug = "creating-a-text-plugin"
	CSSAndTypeScript         Slug = "css-and-typescript"
	CSSModules               Slug = "css-modules"
	CSS                      Slug = "css"
	DependencyPrebundling    Slug = "dependency-prebundling"
	EnvironmentVariables     Slug = "environment-variables"
	EnvironmentsAndModes     Slug = "environments-and-modes"
	EsbuildOptions           Slug = "esbuild-options"
	Frameworks               Slug = "frameworks"
	GlobEntry                Slug = "glob-entry"
	GlobImportSolution       Slug = "glob-import-solution"
	GlobImport               Slug = "glob-import"
	HotModuleReplacement     Slug = "hot-module-replacement"
	ImageTools               Slug = "image-tools"
	ImportMeta               Slug = "import-meta"
	Introduction             Slug = "introduction"
	JSONNamedExports         Slug = "json-named-exports"
	LibraryModeComponents    Slug = "library-mode-components"
	LibraryMode              Slug = "library-mode"
	LinkAndForceOptimization Slug = "link-and-force-optimization"
	Middleware               Slug = "middleware"
	ModuleFederation         Slug = "module-federation"
	MultipleEntriesLibrary   Slug = "multiple-entries-library"
	OptimizeDeps             Slug = "optimize-deps"
	PluginInlineCSS          Slug = "plugin-inline-css"
	PluginMarkdown           Slug = "plugin-markdown"
	PluginsVirtualModules    Slug = "plugins-virtual-modules"
	Plugins                  Slug = "plugins"
	PostCSS                  Slug = "postcss"
	PreserveModules          Slug = "preserve-modules"
	Preview                  Slug = "preview"
	Proxying                 Slug = "proxying"
	Dev                      Slug = "dev"
	Sass                     Slug = "sass"
	SSR                      Slug = "ssr"
	StaticAssets             Slug = "static-assets"
	Templates                Slug = "templates"
	MPA                      Slug = "mpa"
	TypedCSSModules          Slug = "typed-css-modules"
	TypeScript               Slug = "typescript"
	WebWorkers               Slug = "web-workers"
	WhyVite                  Slug = "why-vite"
)

// registry is the single definition of the slug set. Any addition, removal
// or rename here is a breaking change for every consumer of the site's
// content names.
var registry = [...]Slug{
	AssetsInclude,
	BasicSetup,
	CheatSheet,
	DynamicImports,
	Configuration,
	CoreFeatures,
	CreateViteServer,
	CreatingATextPlugin,
	CSSAndTypeScript,
	CSSModules,
	CSS,
	DependencyPrebundling,
	EnvironmentVariables,
	EnvironmentsAndModes,
	EsbuildOptions,
	Frameworks,
	GlobEntry,
	GlobImportSolution,
	GlobImport,
	HotModuleReplacement,
	ImageTools,
	ImportMeta,
	Introduction,
	JSONNamedExports,
	LibraryModeComponents,
	LibraryMode,
	LinkAndForceOptimization,
	Middleware,
	ModuleFederation,
	MultipleEntriesLibrary,
	OptimizeDeps,
	PluginInlineCSS,
	PluginMarkdown,
	PluginsVirtualModules,
	Plugins,
	PostCSS,
	PreserveModules,
	Preview,
	Proxying,
	Dev,
	Sass,
	SSR,
	StaticAssets,
	Templates,
	MPA,
	TypedCSSModules,
	TypeScript,
	WebWorkers,
	WhyVite,
}

// members and sorted are derived from registry once at init and only read afterwards.
var (
	members = buildMembers()
	sorted  = buildSorted()
)

var (
	// ErrUnknown is returned by Parse for well-formed names that are not registered.
	ErrUnknown = xerrors.New("unknown content slug")

	// ErrMalformed is returned by Parse for names that are not lowercase
	// hyphenated identifiers.
	ErrMalformed = xerrors.New("malformed content slug")
)

var shape = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func buildMembers() map[Slug]struct{} {
	m := make(map[Slug]struct{}, len(registry))
	for _, s := range registry {
		if _, dup := m[s]; dup {
			panic("slug: duplicate registry entry " + string(s))
		}
		m[s] = struct{}{}
	}
	return m
}

func buildSorted() []string {
	out := make([]string, 0, len(registry))
	for _, s := range registry {
		out = append(out, string(s))
	}
	slices.Sort(out)
	return out
}

// IsValid reports whether candidate exactly matches a registered slug.
// Matching is case-sensitive and does no trimming or normalization.
func IsValid(candidate string) bool {
	_, ok := members[Slug(candidate)]
	return ok
}

// All returns every registered slug in declaration order. The slice is a
// fresh copy on each call.
func All() []Slug {
	out := make([]Slug, len(registry))
	copy(out, registry[:])
	return out
}

// Set returns the registry as a new map.
func Set() map[Slug]struct{} {
	out := make(map[Slug]struct{}, len(members))
	for s := range members {
		out[s] = struct{}{}
	}
	return out
}

// Strings returns the registered slugs as sorted strings.
func Strings() []string {
	return slices.Clone(sorted)
}

// Len returns the number of registered slugs.
func Len() int { return len(registry) }

// WellFormed reports whether s has the shape of a slug: lowercase ASCII
// letters and digits in hyphen separated runs. It says nothing about
// registration.
func WellFormed(s string) bool {
	return shape.MatchString(s)
}

// Parse returns s as a Slug if it is registered. The error wraps
// ErrMalformed or ErrUnknown.
func Parse(s string) (Slug, error) {
	if !WellFormed(s) {
		return "", xerrors.Wrapf(ErrMalformed, "parse %q", s)
	}
	if !IsValid(s) {
		return "", xerrors.Wrapf(ErrUnknown, "parse %q", s)
	}
	return Slug(s), nil
}

// Valid reports whether s is registered.
func (s Slug) Valid() bool { return IsValid(string(s)) }

func (s Slug) String() string { return string(s) }

func (s Slug) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText accepts registered slugs only.
func (s *Slug) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

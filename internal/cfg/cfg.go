package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/keithlinneman/vitesheet/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names by FillFromEnv in main.
const EnvPrefix = "VITESHEET_"

// ContentMode says where page content is loaded from.
type ContentMode string

const (
	ContentNone ContentMode = "none"
	ContentDisk ContentMode = "disk"
	ContentS3   ContentMode = "s3"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort    int
	AdminPort   int
	TrustedHops int
	RateLimit   float64
	RateBurst   int

	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64

	ContentDir           string
	ContentSSMParam      string
	ContentS3Bucket      string
	ContentS3Prefix      string
	ContentSigningKeyARN string
	EnableContentUpdates bool
	ContentPollInterval  time.Duration
	PagePattern          string
	RequireAllPages      bool
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the server (X-Forwarded-For depth)")
	fs.Float64Var(&c.RateLimit, "rate-limit", 10, "per-ip requests per second")
	fs.IntVar(&c.RateBurst, "rate-burst", 30, "per-ip burst size")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.ContentDir, "content-dir", "", "local directory of markdown pages (disables S3 content)")
	fs.StringVar(&c.ContentSSMParam, "content-ssm-param", "", "ssm parameter name holding the current content bundle sha256")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "s3 bucket name to get content bundles from")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "vitesheet/content/bundles", "s3 prefix (key) to get content bundles from")
	fs.StringVar(&c.ContentSigningKeyARN, "content-signing-key-arn", "", "KMS key ARN for content bundle signature verification")
	fs.BoolVar(&c.EnableContentUpdates, "enable-content-updates", true, "Watch the content source and hot-swap new content")
	fs.DurationVar(&c.ContentPollInterval, "content-poll-interval", 30*time.Second, "how often to poll SSM for a new bundle")
	fs.StringVar(&c.PagePattern, "page-pattern", "**/*.md", "doublestar pattern selecting page files inside the content root")
	fs.BoolVar(&c.RequireAllPages, "require-all-pages", false, "reject content that is missing a page for any registered slug")
}

// Mode reports which content source the config selects.
func (c App) Mode() ContentMode {
	switch {
	case c.ContentDir != "":
		return ContentDisk
	case c.ContentS3Bucket != "" || c.ContentSSMParam != "":
		return ContentS3
	default:
		return ContentNone
	}
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks ranges and cross-field rules. Every problem is reported,
// joined into one error. release enables the rules for tagged builds.
func Validate(c App, release bool) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		add("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		add("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		add("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.TrustedHops < 0 {
		add("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops)
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		add("RATE_LIMIT must be > 0 and RATE_BURST >= 1 (got %.2f/%d)", c.RateLimit, c.RateBurst)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		add("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			add("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		add("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		add("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			add("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			add("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			add("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			add("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	if !doublestar.ValidatePattern(c.PagePattern) {
		add("invalid PAGE_PATTERN %q", c.PagePattern)
	}

	switch c.Mode() {
	case ContentDisk:
		if c.ContentS3Bucket != "" || c.ContentSSMParam != "" {
			add("CONTENT_DIR cannot be combined with CONTENT_S3_BUCKET or CONTENT_SSM_PARAM")
		}
		if fi, err := os.Stat(c.ContentDir); err != nil || !fi.IsDir() {
			add("CONTENT_DIR %q is not a readable directory", c.ContentDir)
		}
	case ContentS3:
		if c.ContentS3Bucket == "" {
			add("CONTENT_S3_BUCKET is required when CONTENT_SSM_PARAM is set")
		}
		if c.ContentSSMParam == "" {
			add("CONTENT_SSM_PARAM is required when CONTENT_S3_BUCKET is set")
		}
		if c.EnableContentUpdates && c.ContentPollInterval < 5*time.Second {
			add("CONTENT_POLL_INTERVAL must be >= 5s (got %s)", c.ContentPollInterval)
		}
		// fail closed: release builds never serve unsigned bundles
		if release && c.ContentSigningKeyARN == "" {
			add("release build requires CONTENT_SIGNING_KEY_ARN for s3 content")
		}
	}

	return errors.Join(errs...)
}

package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/vitesheet/internal/slug"
)

const (
	testBucket   = "vitesheet-content"
	testS3Prefix = "bundles"
	testSSMParam = "/vitesheet/content/bundle-hash"
)

// makeTarGz builds a .tar.gz archive in memory. Entries are written in
// sorted order so the archive bytes are deterministic.
func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, name := range names {
		body := entries[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o640,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatalf("write tar header %q: %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write tar content %q: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// pageFiles returns "<slug>.md" bodies for the given slugs.
func pageFiles(ids ...slug.Slug) map[string]string {
	m := make(map[string]string, len(ids))
	for _, id := range ids {
		m[string(id)+".md"] = "# " + string(id) + "\n\nbody\n"
	}
	return m
}

// fullTree has a page for every registered slug.
func fullTree() map[string]string { return pageFiles(slug.All()...) }

func mapFS(files map[string]string) fstest.MapFS {
	m := make(fstest.MapFS, len(files))
	for k, v := range files {
		m[k] = &fstest.MapFile{Data: []byte(v)}
	}
	return m
}

// fakeS3 serves objects from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	gets    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.gets = append(f.gets, key)
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.Bucket) != testBucket {
		return nil, &s3types.NoSuchBucket{}
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// fakeSSM returns a settable parameter value.
type fakeSSM struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (f *fakeSSM) set(v string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value, f.err = v, err
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if aws.ToString(in.Name) != testSSMParam {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

// fakeVerifier accepts exactly one signature value.
type fakeVerifier struct {
	good []byte
	seen [][]byte
}

func (v *fakeVerifier) VerifySignature(_ context.Context, message, signature []byte) error {
	v.seen = append(v.seen, message)
	if !bytes.Equal(signature, v.good) {
		return errors.New("signature mismatch")
	}
	return nil
}

func newTestLoader(t *testing.T, s3c *fakeS3, ssmc *fakeSSM, mutate ...func(*LoaderOptions)) *Loader {
	t.Helper()
	opts := LoaderOptions{
		SSMParam:  testSSMParam,
		S3Bucket:  testBucket,
		S3Prefix:  testS3Prefix,
		S3Client:  s3c,
		SSMClient: ssmc,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	l, err := NewLoader(t.Context(), opts)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

// spyMetrics records watcher signals.
type spyMetrics struct {
	mu          sync.Mutex
	polls       int
	swaps       int
	errs        map[string]int
	durations   int
	lastSuccess float64
	stale       []bool
}

func newSpyMetrics() *spyMetrics { return &spyMetrics{errs: make(map[string]int)} }

func (s *spyMetrics) IncWatcherPolls() { s.mu.Lock(); s.polls++; s.mu.Unlock() }
func (s *spyMetrics) IncWatcherSwaps() { s.mu.Lock(); s.swaps++; s.mu.Unlock() }
func (s *spyMetrics) IncWatcherError(kind string) {
	s.mu.Lock()
	s.errs[kind]++
	s.mu.Unlock()
}
func (s *spyMetrics) ObserveBundleLoadDuration(float64) { s.mu.Lock(); s.durations++; s.mu.Unlock() }
func (s *spyMetrics) SetWatcherLastSuccess(v float64)   { s.mu.Lock(); s.lastSuccess = v; s.mu.Unlock() }
func (s *spyMetrics) SetWatcherStale(v bool) {
	s.mu.Lock()
	s.stale = append(s.stale, v)
	s.mu.Unlock()
}

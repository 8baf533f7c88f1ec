package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"testing/fstest"
	"time"

	"github.com/keithlinneman/vitesheet/internal/pathutil"
	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

const (
	// maxBundleSize is the maximum size of a compressed content bundle
	maxBundleSize int64 = 50 * 1024 * 1024 // 50MB

	// maxSingleFile is the maximum size of a single file in the bundle
	maxSingleFile int64 = 10 * 1024 * 1024 // 10MB

	// maxTotalExtract is the maximum total size of extracted content
	maxTotalExtract int64 = 100 * 1024 * 1024 // 100MB
)

// readWithHash reads r up to maxSize bytes and returns the data with its
// hex SHA-256.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	tr := io.TeeReader(io.LimitReader(r, maxSize+1), h)

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("content exceeds max size (%d bytes, limit %d)", len(data), maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// ExtractTarGz unpacks a .tar.gz bundle into an in-memory filesystem.
// Only regular files and directories are accepted.
func ExtractTarGz(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		name, err := pathutil.Clean(hdr.Name)
		if err != nil {
			return nil, xerrors.Wrapf(err, "archive entry %s", hdr.Name)
		}
		if name == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue

		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
			}
			body, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", name)
			}
			if int64(len(body)) > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size after read", name)
			}
			total += int64(len(body))
			if total > maxTotalExtract {
				return nil, xerrors.Newf("total extracted size exceeds limit (%d bytes, max %d)", total, maxTotalExtract)
			}
			mfs[name] = &fstest.MapFile{
				Data:    body,
				Mode:    hdr.FileInfo().Mode().Perm(),
				ModTime: hdr.ModTime,
			}

		default:
			return nil, xerrors.Newf("unsupported file type in archive: %s (type=%d)", name, hdr.Typeflag)
		}
	}
	return mfs, nil
}

// LoadBundleFile reads a local .tar.gz bundle and indexes it. The snapshot
// hash is the SHA-256 of the archive, matching what the S3 loader uses.
func LoadBundleFile(file, pattern string) (*Snapshot, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open bundle %s", file)
	}
	defer f.Close()

	data, hash, err := readWithHash(f, maxBundleSize)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read bundle %s", file)
	}
	fsys, err := ExtractTarGz(data)
	if err != nil {
		return nil, xerrors.Wrap(err, "extract bundle")
	}
	return newSnapshot(fsys, pattern, Meta{Hash: hash, Source: SourceUnknown})
}

// newSnapshot indexes fsys and fills Version from the manifest when the
// caller did not set one.
func newSnapshot(fsys fs.FS, pattern string, meta Meta) (*Snapshot, error) {
	ix, err := BuildIndex(fsys, pattern)
	if err != nil {
		return nil, err
	}
	if meta.Version == "" {
		v, err := readManifestVersion(fsys)
		if err != nil {
			return nil, err
		}
		meta.Version = v
	}
	return &Snapshot{FS: fsys, Meta: meta, Index: ix, LoadedAt: time.Now().UTC()}, nil
}

// Package content manages the markdown pages that back the content slugs.
//
// A content tree is a set of "<slug>.md" files. It is loaded from a local
// directory or from a tar.gz bundle published to S3, indexed against the
// slug registry, validated, and then published to readers through a
// [Manager].
//
// The core components are:
//   - [BuildIndex]: matches page files and maps them to registered slugs
//   - [Manager]: holds the active [Snapshot] behind an atomic.Pointer for lock-free reads
//   - [LoadDir] and [DirWatcher]: disk source with fsnotify-driven reloads
//   - [Loader] and [Watcher]: S3 bundles addressed by a hash stored in SSM
//
// Bundle extraction enforces strict limits: maximum compressed size,
// per-file size, total extracted size, and path traversal checks.
package content

// Package stores provides the storage collaborators of the module loader:
// a SQLite-backed module collection store (WAL mode, embedded migrations,
// per-collection monotonic revisions) and an afero-backed FileStore used
// for filesystem packages.
package stores

package vault

import "io/fs"

// Path represents a validated filesystem path together with the stat
// metadata gathered when it was resolved, so later decisions don't need
// to re-stat (and potentially race against) the filesystem.
type Path struct {
	absPath string
	isDir   bool
	info    fs.FileInfo
}

// NewPath creates a Path from its components. Used by FilesystemManager
// implementations once a path has been validated.
func NewPath(absPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{absPath: absPath, isDir: isDir, info: info}
}

// String returns the absolute path.
func (p *Path) String() string { return p.absPath }

// IsDir reports whether this path is a directory.
func (p *Path) IsDir() bool { return p.isDir }

// Info returns the cached file info from when the path was resolved.
func (p *Path) Info() fs.FileInfo { return p.info }

package vault

import (
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// keyEncoding is the base64 alphabet used to encode source paths into key
// suffixes. It is the standard alphabet with '/' swapped for '_' so the
// encoded text can never be mistaken for a path separator; '+' is left
// alone since it is filesystem-safe.
var keyEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+_",
).WithPadding(base64.StdPadding)

// DefaultMaxNameLength is used when the filesystem's NAME_MAX cannot be
// queried for a particular path. 255 holds for ext4, XFS and most POSIX
// filesystems in practice.
const DefaultMaxNameLength = 255

const keyDelimiter = "-"

// Key is the vault's content-addressed identifier for a tracked file: the
// inode ID, chunked into byte-wide hex segments that double as a
// directory fan-out, followed by the base64 encoding of the file's
// original path. Reconstructing a Key from its on-disk path recovers
// both the inode and the original path without consulting any external
// index.
type Key struct {
	prefix []string // hex byte chunks, most-significant first, excluding the LSB
	suffix string   // "<LSB hex>-<base64 path>", itself split across directories
}

// NewKey builds the key for path as it existed at the time inode was
// obtained. maxNameLength bounds the length of each path component the
// key is split across; pass DefaultMaxNameLength unless the target
// filesystem is known to differ.
func NewKey(srcPath string, inode uint64, maxNameLength int) *Key {
	inodeHex := strconv.FormatUint(inode, 16)
	if len(inodeHex)%2 != 0 {
		inodeHex = "0" + inodeHex
	}

	var chunks []string
	for i := 0; i < len(inodeHex); i += 2 {
		chunks = append(chunks, inodeHex[i:i+2])
	}

	k := &Key{}
	if len(chunks) > 1 {
		k.prefix = chunks[:len(chunks)-1]
	}

	encoded := keyEncoding.EncodeToString([]byte(srcPath))
	perPart := maxNameLength - len(chunks[len(chunks)-1]) - len(keyDelimiter)

	var parts []string
	for i := 0; i < len(encoded); i += perPart {
		end := i + perPart
		if end > len(encoded) {
			end = len(encoded)
		}
		parts = append(parts, encoded[i:end])
	}

	k.suffix = chunks[len(chunks)-1] + keyDelimiter + path.Join(parts...)
	return k
}

// Reconstruct rebuilds a Key from a path already present under a vault
// branch directory, recovering the original source path and inode.
func Reconstruct(keyPath string) (*Key, error) {
	srcPath, inode, err := decodeKey(keyPath)
	if err != nil {
		return nil, err
	}
	return NewKey(srcPath, inode, DefaultMaxNameLength), nil
}

func decodeKey(keyPath string) (string, uint64, error) {
	joined := strings.ReplaceAll(keyPath, string(filepathSeparator), "")
	idx := strings.Index(joined, keyDelimiter)
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed vault key %q: missing delimiter", keyPath)
	}

	inodeHex, encodedPath := joined[:idx], joined[idx+1:]
	inode, err := strconv.ParseUint(inodeHex, 16, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed vault key %q: bad inode: %w", keyPath, err)
	}

	decoded, err := keyEncoding.DecodeString(encodedPath)
	if err != nil {
		return "", 0, fmt.Errorf("malformed vault key %q: bad path encoding: %w", keyPath, err)
	}

	return string(decoded), inode, nil
}

const filepathSeparator = '/'

// Path returns the key's location relative to a branch directory.
func (k *Key) Path() string {
	if len(k.prefix) == 0 {
		return k.suffix
	}
	return path.Join(path.Join(k.prefix...), k.suffix)
}

// Source returns the original path this key was derived from.
func (k *Key) Source() (string, error) {
	src, _, err := decodeKey(k.Path())
	return src, err
}

// Equal reports whether two keys resolve to the same branch-relative path.
func (k *Key) Equal(other *Key) bool {
	if other == nil {
		return false
	}
	return k.Path() == other.Path()
}

// SearchPattern returns a directory to search and a glob pattern matching
// any key sharing this key's inode LSB, used to find a pre-existing entry
// for an inode whose path component may have changed (e.g., a rename).
func (k *Key) SearchPattern() (dir, pattern string) {
	lsb := strings.SplitN(k.suffix, keyDelimiter, 2)[0]
	if len(k.prefix) == 0 {
		return "", "*" + lsb + keyDelimiter + "*"
	}
	return path.Join(k.prefix...), "*" + lsb + keyDelimiter + "*"
}

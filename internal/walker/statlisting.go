package walker

import (
	"bufio"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

// StatListingWalker consumes a pre-computed, gzipped, tab-separated
// listing of base64(path)\tsize\towner\tgroup\tatime\tmtime\tctime\tmode\tinode\tnlinks\tdevice
// records instead of walking the filesystem directly. It trades
// precision (the listing may be out of date) for the cost of a full
// filesystem traversal.
type StatListingWalker struct {
	listingPath string
	timestamp   time.Time
	vaults      map[string]*vault.Vault // base64 path prefix -> vault
	logger      vault.Logger
}

const (
	fieldPath = iota
	fieldSize
	fieldOwner
	fieldGroup
	fieldAtime
	fieldMtime
	fieldCtime
	fieldMode
	fieldInode
	fieldNLinks
	fieldDevice
	fieldCount
)

// NewStatListingWalker opens listingPath (without reading it) and
// resolves the vault covering each base path.
func NewStatListingWalker(logger vault.Logger, listingPath string, bases ...string) (*StatListingWalker, error) {
	if logger == nil {
		logger = vault.NewNopLogger()
	}

	info, err := os.Stat(listingPath)
	if err != nil {
		return nil, fmt.Errorf("stat listing %s: %w", listingPath, err)
	}

	w := &StatListingWalker{
		listingPath: listingPath,
		timestamp:   info.ModTime(),
		vaults:      map[string]*vault.Vault{},
		logger:      logger,
	}

	if time.Since(w.timestamp) > RestatAfter {
		logger.Warn("stat listing is out of date; files will be forcibly restat'ed", "path", listingPath)
	}

	seen := map[string]bool{}
	for _, base := range bases {
		v, err := vault.Open(base, false)
		if err != nil {
			logger.Warn("skipping base path", "path", base, "error", err)
			continue
		}
		if seen[v.Root] {
			continue
		}
		seen[v.Root] = true
		w.vaults[base64Prefix(v.Root)] = v
	}

	if len(w.vaults) == 0 {
		return nil, fmt.Errorf("no vault found covering any of the given base paths")
	}

	return w, nil
}

// base64Prefix returns the longest prefix of base64(path) shared by base64(path) and base64(path + "/"), letting a listing
// scan reject most lines by string prefix before paying for a decode.
func base64Prefix(path string) string {
	bare := base64.StdEncoding.EncodeToString([]byte(path))
	slashed := base64.StdEncoding.EncodeToString([]byte(path + "/"))

	n := 0
	for n < len(bare) && n < len(slashed) && bare[n] == slashed[n] {
		n++
	}
	if n == len(bare) {
		return bare
	}
	return bare[:n]
}

func (w *StatListingWalker) match(encoded string) (*vault.Vault, string, bool) {
	for prefix, v := range w.vaults {
		if !strings.HasPrefix(encoded, prefix) {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		path := string(decoded)
		if strings.HasPrefix(path, v.Root+string(os.PathSeparator)) || path == v.Root {
			return v, path, true
		}
	}
	return nil, "", false
}

// Files reads the listing line by line, yielding every regular file that
// falls under one of the resolved vaults.
func (w *StatListingWalker) Files() ([]Status, error) {
	f, err := os.Open(w.listingPath)
	if err != nil {
		return nil, fmt.Errorf("opening listing: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	var results []Status
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != fieldCount {
			w.logger.Warn("malformed stat listing line", "fields", len(fields))
			continue
		}
		if fields[fieldMode] != "f" {
			continue
		}

		v, path, ok := w.match(fields[fieldPath])
		if !ok {
			continue
		}

		file, err := parseStatRecord(path, fields, w.timestamp)
		if err != nil {
			w.logger.Warn("malformed stat listing record", "path", path, "error", err)
			continue
		}

		branch, serr := v.Status(path)
		results = append(results, Status{Vault: v, File: file, Branch: branch, Err: serr})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading listing: %w", err)
	}

	return results, nil
}

func parseStatRecord(path string, fields []string, timestamp time.Time) (*File, error) {
	size, err := strconv.ParseInt(fields[fieldSize], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	owner, err := strconv.ParseInt(fields[fieldOwner], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}
	group, err := strconv.ParseInt(fields[fieldGroup], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("group: %w", err)
	}
	mtimeSec, err := strconv.ParseInt(fields[fieldMtime], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("mtime: %w", err)
	}
	inode, err := strconv.ParseUint(fields[fieldInode], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("inode: %w", err)
	}
	nlinks, err := strconv.ParseUint(fields[fieldNLinks], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("nlinks: %w", err)
	}
	device, err := strconv.ParseUint(fields[fieldDevice], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	return &File{
		Path:    path,
		UID:     owner,
		GID:     group,
		Size:    size,
		Mtime:   time.Unix(mtimeSec, 0),
		Inode:   inode,
		Device:  device,
		NLink:   nlinks,
		statAt:  timestamp,
		nowFunc: time.Now,
	}, nil
}

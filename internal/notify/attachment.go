package notify

import (
	"bytes"
	"compress/gzip"
	"fmt"

	"github.com/wtsi-hgi/hgi-vault/internal/store"
)

// Attachment is one file-of-filenames attachment: a gzip-compressed,
// newline-delimited listing of absolute source paths.
type Attachment struct {
	Name string
	Data []byte
}

// fofn gzip-compresses a newline-delimited listing of every file's
// SourcePath, named name.
func fofn(name string, files []store.File) (Attachment, error) {
	var raw bytes.Buffer
	for _, f := range files {
		raw.WriteString(f.SourcePath)
		raw.WriteByte('\n')
	}

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write(raw.Bytes()); err != nil {
		return Attachment{}, fmt.Errorf("compressing %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return Attachment{}, fmt.Errorf("closing %s: %w", name, err)
	}

	return Attachment{Name: name, Data: gz.Bytes()}, nil
}

// Attachments builds every fofn attachment p's lists justify: one
// delete-<h>.fofn.gz per non-empty checkpoint, deleted.fofn.gz and
// staged.fofn.gz if those lists are non-empty.
func Attachments(p *Payload) ([]Attachment, error) {
	var out []Attachment

	for _, c := range p.Checkpoints {
		if len(c.Files) == 0 {
			continue
		}
		a, err := fofn(fmt.Sprintf("delete-%d.fofn.gz", c.TminusHours), c.Files)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	if len(p.Deleted) > 0 {
		a, err := fofn("deleted.fofn.gz", p.Deleted)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	if len(p.Staged) > 0 {
		a, err := fofn("staged.fofn.gz", p.Staged)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, nil
}

package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

// bodyTemplate renders a Payload's contents into the plain-text message
// body. Wording is deliberately careful about two points: soft-deleted
// files are recoverable, so the word "irrecoverably" never appears for
// them, and files still only pending deletion are always described in
// future tense.
const bodyTemplate = `This is an automated message from the data retention system.

{{- range .Checkpoints}}
{{if .Files}}
The following {{len .Files}} file(s) will be deleted in approximately {{.TminusHours}} hours unless they are moved, modified, or annotated for keep/archive:
{{range summarize .Files}}  {{.CommonPath}} ({{.Count}} files, {{printf "%.1f" .MiB}} MiB)
{{end}}{{end}}
{{- end}}
{{- if .Deleted}}

The following {{len .Deleted}} file(s) have been soft-deleted and moved to a recoverable holding area. Use the recover command before the grace period elapses, after which they cannot be restored:
{{range summarize .Deleted}}  {{.CommonPath}} ({{.Count}} files, {{printf "%.1f" .MiB}} MiB)
{{end}}
{{- end}}
{{- if .Staged}}

The following {{len .Staged}} file(s) have been staged for archival:
{{range summarize .Staged}}  {{.CommonPath}} ({{.Count}} files, {{printf "%.1f" .MiB}} MiB)
{{end}}
{{- end}}
`

var bodyTmpl = template.Must(template.New("notify-body").
	Funcs(template.FuncMap{"summarize": summarizeByGroup}).
	Parse(bodyTemplate))

// Render produces the subject and body of the message p describes. It
// is a pure function of p so it can be tested without an SMTP sink.
func Render(p *Payload) (subj, body string, err error) {
	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, p); err != nil {
		return "", "", fmt.Errorf("rendering notification body: %w", err)
	}
	return subject(p), buf.String(), nil
}

func subject(p *Payload) string {
	parts := []string{}
	if n := countFiles(p.Checkpoints); n > 0 {
		parts = append(parts, fmt.Sprintf("%d pending deletion", n))
	}
	if len(p.Deleted) > 0 {
		parts = append(parts, fmt.Sprintf("%d soft-deleted", len(p.Deleted)))
	}
	if len(p.Staged) > 0 {
		parts = append(parts, fmt.Sprintf("%d staged for archival", len(p.Staged)))
	}
	if len(parts) == 0 {
		return "Vault: no changes"
	}

	joined := parts[0]
	for _, p := range parts[1:] {
		joined += ", " + p
	}
	return "Vault: " + joined
}

func countFiles(checkpoints []CheckpointList) int {
	n := 0
	for _, c := range checkpoints {
		n += len(c.Files)
	}
	return n
}

package notify

import (
	"context"
	"fmt"

	"github.com/wtsi-hgi/hgi-vault/internal/idm"
	"github.com/wtsi-hgi/hgi-vault/internal/store"
	"github.com/wtsi-hgi/hgi-vault/internal/vault"
)

// Summary reports what one Run sent.
type Summary struct {
	Sent   int
	Failed int
}

// Notifier aggregates every stakeholder's unnotified warning, deletion
// and staging events into a single message and dispatches it, marking
// each event notified only once the send has succeeded. A failed send
// leaves its events unnotified so the next sweep's Run retries them.
type Notifier struct {
	Store        store.Store
	IDM          idm.IdentityManager
	Mailer       Mailer
	Logger       vault.Logger
	From         string
	WarningHours []int64 // descending, matching deletion.warnings
}

// Run sends one message to every stakeholder who has anything
// unnotified, and records the result.
func (n *Notifier) Run(ctx context.Context) (*Summary, error) {
	logger := n.logger()

	uids, err := n.Store.Stakeholders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stakeholders: %w", err)
	}

	summary := &Summary{}
	for _, uid := range uids {
		payload, err := n.buildPayload(ctx, uid)
		if err != nil {
			return summary, fmt.Errorf("building payload for uid %d: %w", uid, err)
		}
		if payload.Empty() {
			continue
		}

		if err := n.send(ctx, uid, payload); err != nil {
			logger.Warn("failed to send notification; will retry next sweep", "uid", uid, "error", err)
			summary.Failed++
			continue
		}
		summary.Sent++
	}
	return summary, nil
}

func (n *Notifier) buildPayload(ctx context.Context, uid int64) (*Payload, error) {
	p := &Payload{Stakeholder: uid}

	deleted, err := n.Store.Files(ctx, store.Filter{State: store.StateDeleted, Stakeholder: uid, ExcludeNotified: true})
	if err != nil {
		return nil, fmt.Errorf("listing deleted files: %w", err)
	}
	p.Deleted = deleted
	deletedKeys := map[store.FileKey]bool{}
	for _, f := range deleted {
		deletedKeys[f.Key()] = true
		p.statusIDs = append(p.statusIDs, f.StatusID)
	}

	for _, h := range n.WarningHours {
		files, err := n.Store.Files(ctx, store.Filter{State: store.StateWarned, Stakeholder: uid, TminusHours: h, ExcludeNotified: true})
		if err != nil {
			return nil, fmt.Errorf("listing warned files at t-%dh: %w", h, err)
		}

		// A file already reported in this sweep's deleted list never also
		// appears in a to-delete-within-h list, even if a stale unnotified
		// warned row for it still exists.
		var kept []store.File
		for _, f := range files {
			if deletedKeys[f.Key()] {
				continue
			}
			kept = append(kept, f)
			p.statusIDs = append(p.statusIDs, f.StatusID)
		}
		if len(kept) > 0 {
			p.Checkpoints = append(p.Checkpoints, CheckpointList{TminusHours: h, Files: kept})
		}
	}

	staged, err := n.Store.Files(ctx, store.Filter{State: store.StateStaged, Stakeholder: uid, ExcludeNotified: true})
	if err != nil {
		return nil, fmt.Errorf("listing staged files: %w", err)
	}
	p.Staged = staged
	for _, f := range staged {
		p.statusIDs = append(p.statusIDs, f.StatusID)
	}

	return p, nil
}

func (n *Notifier) send(ctx context.Context, uid int64, p *Payload) error {
	user, err := n.IDM.User(uid)
	if err != nil {
		return fmt.Errorf("resolving stakeholder %d: %w", uid, err)
	}

	subject, body, err := Render(p)
	if err != nil {
		return err
	}
	attachments, err := Attachments(p)
	if err != nil {
		return fmt.Errorf("building attachments: %w", err)
	}

	msg := &Message{To: user.Email, From: n.From, Subject: subject, Body: body, Attachments: attachments}
	if err := n.Mailer.Send(msg); err != nil {
		return fmt.Errorf("sending to %s: %w", user.Email, err)
	}

	for _, statusID := range p.statusIDs {
		if err := n.Store.MarkNotified(ctx, statusID, uid); err != nil {
			return fmt.Errorf("marking status %d notified for uid %d: %w", statusID, uid, err)
		}
	}
	n.logger().Info("sent notification", "uid", uid, "email", user.Email,
		"warned", countFiles(p.Checkpoints), "deleted", len(p.Deleted), "staged", len(p.Staged))
	return nil
}

func (n *Notifier) logger() vault.Logger {
	if n.Logger == nil {
		return vault.NewNopLogger()
	}
	return n.Logger
}

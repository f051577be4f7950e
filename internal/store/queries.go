package store

import (
	"context"
	"database/sql"
	"time"
)

// Queries wraps a *sql.DB or *sql.Tx with one method per hand-rolled
// prepared statement, in the shape sqlc would generate. Hand-written
// here because the pack's sqlc toolchain is not available to run; the
// statements themselves are unremarkable CRUD against the schema in
// internal/store/migrations/files.
type Queries struct {
	db dbtx
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db dbtx) *Queries { return &Queries{db: db} }

func (q *Queries) WithTx(tx *sql.Tx) *Queries { return &Queries{db: tx} }

func (q *Queries) UpsertFile(ctx context.Context, f *File) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO files (device, inode, source_path, vault_key, mtime, owner_uid, group_gid, size, first_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device, inode) DO UPDATE SET
			source_path = EXCLUDED.source_path,
			vault_key   = EXCLUDED.vault_key,
			mtime       = EXCLUDED.mtime,
			owner_uid   = EXCLUDED.owner_uid,
			group_gid   = EXCLUDED.group_gid,
			size        = EXCLUDED.size`,
		f.Device, f.Inode, f.SourcePath, f.VaultKey, f.Mtime, f.OwnerUID, f.GroupGID, f.Size, f.FirstSeenAt)
	return err
}

func (q *Queries) InsertStatus(ctx context.Context, device, inode uint64, state State, at time.Time) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO statuses (file_device, file_inode, state, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		device, inode, string(state), at).Scan(&id)
	return id, err
}

func (q *Queries) InsertWarning(ctx context.Context, statusID, tminusHours int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO warnings (status_id, tminus_hours) VALUES ($1, $2)`,
		statusID, tminusHours)
	return err
}

func (q *Queries) InsertStagedQueueEntry(ctx context.Context, statusID int64, vaultKey string, size int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO staged_queue (status_id, vault_key, size_bytes, queued_at) VALUES ($1, $2, $3, $4)`,
		statusID, vaultKey, size, at)
	return err
}

func (q *Queries) DeleteStatusesForFile(ctx context.Context, device, inode uint64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM statuses WHERE file_device = $1 AND file_inode = $2`, device, inode)
	return err
}

func (q *Queries) DeleteFile(ctx context.Context, device, inode uint64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM files WHERE device = $1 AND inode = $2`, device, inode)
	return err
}

const filesByLatestStatusQuery = `
	SELECT f.device, f.inode, f.source_path, f.vault_key, f.mtime, f.owner_uid, f.group_gid, f.size, f.first_seen_at,
	       s.id, s.state, s.created_at
	FROM files f
	JOIN statuses s ON s.file_device = f.device AND s.file_inode = f.inode
	JOIN (
		SELECT file_device, file_inode, MAX(id) AS id
		FROM statuses
		GROUP BY file_device, file_inode
	) latest ON latest.file_device = f.device AND latest.file_inode = f.inode AND latest.id = s.id
	WHERE s.state = $1
	  AND (f.owner_uid = $2 OR f.group_gid IN (SELECT gid FROM group_owners WHERE owner_uid = $2))`

func (q *Queries) FilesByLatestStatus(ctx context.Context, state State, stakeholder int64, excludeNotified bool, tminusHours int64) ([]fileStatusRow, error) {
	query := filesByLatestStatusQuery
	args := []any{string(state), stakeholder}

	if excludeNotified {
		query += ` AND NOT EXISTS (SELECT 1 FROM notifications n WHERE n.status_id = s.id AND n.stakeholder_uid = $2)`
	}
	if state == StateWarned {
		query += ` AND EXISTS (SELECT 1 FROM warnings w WHERE w.status_id = s.id AND w.tminus_hours = $3)`
		args = append(args, tminusHours)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []fileStatusRow
	for rows.Next() {
		var r fileStatusRow
		if err := rows.Scan(&r.Device, &r.Inode, &r.SourcePath, &r.VaultKey, &r.Mtime, &r.OwnerUID, &r.GroupGID,
			&r.Size, &r.FirstSeenAt, &r.StatusID, &r.State, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type fileStatusRow struct {
	Device, Inode                                       uint64
	SourcePath, VaultKey                                string
	Mtime, FirstSeenAt, CreatedAt                       time.Time
	OwnerUID, GroupGID, Size, StatusID                  int64
	State                                               string
}

func (q *Queries) WarnedSince(ctx context.Context, device, inode uint64, tminusHours int64, since time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM statuses s
			JOIN warnings w ON w.status_id = s.id
			WHERE s.file_device = $1 AND s.file_inode = $2 AND s.state = 'warned'
			  AND w.tminus_hours = $3 AND s.created_at >= $4
		)`, device, inode, tminusHours, since).Scan(&exists)
	return exists, err
}

func (q *Queries) Stakeholders(ctx context.Context) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT owner_uid FROM files
		WHERE EXISTS (
			SELECT 1 FROM statuses s
			LEFT JOIN notifications n ON n.status_id = s.id AND n.stakeholder_uid = files.owner_uid
			WHERE s.file_device = files.device AND s.file_inode = files.inode AND n.status_id IS NULL
		)
		UNION
		SELECT DISTINCT go_.owner_uid FROM group_owners go_
		JOIN files f ON f.group_gid = go_.gid
		WHERE EXISTS (
			SELECT 1 FROM statuses s
			LEFT JOIN notifications n ON n.status_id = s.id AND n.stakeholder_uid = go_.owner_uid
			WHERE s.file_device = f.device AND s.file_inode = f.inode AND n.status_id IS NULL
		)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

func (q *Queries) InsertNotification(ctx context.Context, statusID, stakeholder int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (status_id, stakeholder_uid) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, statusID, stakeholder)
	return err
}

func (q *Queries) UpsertGroup(ctx context.Context, gid int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO groups (gid, discovered_at) VALUES ($1, $2)
		ON CONFLICT (gid) DO NOTHING`, gid, at)
	return err
}

func (q *Queries) DeleteGroupOwners(ctx context.Context, gid int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM group_owners WHERE gid = $1`, gid)
	return err
}

func (q *Queries) InsertGroupOwner(ctx context.Context, gid, owner int64) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO group_owners (gid, owner_uid) VALUES ($1, $2)`, gid, owner)
	return err
}

func (q *Queries) GroupOwners(ctx context.Context, gid int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT owner_uid FROM group_owners WHERE gid = $1`, gid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		owners = append(owners, uid)
	}
	return owners, rows.Err()
}

func (q *Queries) StagedQueue(ctx context.Context, limit int) ([]StagedQueueEntry, error) {
	var lim any // LIMIT NULL reads every row
	if limit > 0 {
		lim = limit
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT status_id, vault_key, size_bytes, queued_at FROM staged_queue
		ORDER BY queued_at ASC LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StagedQueueEntry
	for rows.Next() {
		var e StagedQueueEntry
		if err := rows.Scan(&e.StatusID, &e.VaultKey, &e.SizeBytes, &e.QueuedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) DeleteStagedQueueEntry(ctx context.Context, statusID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM staged_queue WHERE status_id = $1`, statusID)
	return err
}

// PurgeFullyNotifiedDeleted removes every file whose latest status is
// "deleted" and for which every stakeholder (the owner, plus every
// registered owner of the file's group) has a matching notification row.
func (q *Queries) PurgeFullyNotifiedDeleted(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM files f WHERE EXISTS (
			SELECT 1 FROM statuses s
			WHERE s.file_device = f.device AND s.file_inode = f.inode AND s.state = 'deleted'
			AND s.id = (SELECT MAX(id) FROM statuses WHERE file_device = f.device AND file_inode = f.inode)
			AND EXISTS (SELECT 1 FROM notifications n WHERE n.status_id = s.id AND n.stakeholder_uid = f.owner_uid)
			AND NOT EXISTS (
				SELECT 1 FROM group_owners go_
				WHERE go_.gid = f.group_gid
				AND NOT EXISTS (SELECT 1 FROM notifications n WHERE n.status_id = s.id AND n.stakeholder_uid = go_.owner_uid)
			)
		)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) PurgeStaleUnstaged(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM files f WHERE f.first_seen_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM statuses s WHERE s.file_device = f.device AND s.file_inode = f.inode AND s.state = 'staged'
		)`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/wtsi-hgi/hgi-vault/internal/store/migrations"
)

// PostgresStore implements Store against a PostgreSQL database, managed
// through database/sql's own connection pool rather than a bespoke one:
// sql.DB is already safe for concurrent use and already pools.
type PostgresStore struct {
	db      *sql.DB
	queries *Queries
}

// Config names the connection parameters needed to reach the database.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

func (c Config) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslmode)
}

// Open connects to PostgreSQL and runs any pending migrations.
func Open(cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{db: db, queries: New(db)}, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Persist(ctx context.Context, file *File, state State, tminusHours int64) (int64, error) {
	var statusID int64
	err := s.withTx(ctx, func(q *Queries) error {
		if file.FirstSeenAt.IsZero() {
			file.FirstSeenAt = time.Now()
		}
		if err := q.UpsertFile(ctx, file); err != nil {
			return fmt.Errorf("upserting file: %w", err)
		}

		id, err := q.InsertStatus(ctx, file.Device, file.Inode, state, time.Now())
		if err != nil {
			return fmt.Errorf("inserting status: %w", err)
		}
		statusID = id

		switch state {
		case StateWarned:
			if err := q.InsertWarning(ctx, id, tminusHours); err != nil {
				return fmt.Errorf("inserting warning: %w", err)
			}
		case StateStaged:
			if err := q.InsertStagedQueueEntry(ctx, id, file.VaultKey, file.Size, time.Now()); err != nil {
				return fmt.Errorf("inserting staged queue entry: %w", err)
			}
		}
		return nil
	})
	return statusID, err
}

func (s *PostgresStore) Clear(ctx context.Context, key FileKey) error {
	return s.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteStatusesForFile(ctx, key.Device, key.Inode); err != nil {
			return fmt.Errorf("clearing statuses: %w", err)
		}
		if err := q.DeleteFile(ctx, key.Device, key.Inode); err != nil {
			return fmt.Errorf("clearing file: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Files(ctx context.Context, filter Filter) ([]File, error) {
	rows, err := s.queries.FilesByLatestStatus(ctx, filter.State, filter.Stakeholder, filter.ExcludeNotified, filter.TminusHours)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}

	files := make([]File, len(rows))
	for i, r := range rows {
		files[i] = File{
			Device: r.Device, Inode: r.Inode,
			SourcePath: r.SourcePath, VaultKey: r.VaultKey,
			Mtime: r.Mtime, OwnerUID: r.OwnerUID, GroupGID: r.GroupGID,
			Size: r.Size, FirstSeenAt: r.FirstSeenAt,
			StatusID: r.StatusID,
		}
	}
	return files, nil
}

func (s *PostgresStore) Stakeholders(ctx context.Context) ([]int64, error) {
	uids, err := s.queries.Stakeholders(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying stakeholders: %w", err)
	}
	return uids, nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, statusID int64, stakeholder int64) error {
	if err := s.queries.InsertNotification(ctx, statusID, stakeholder); err != nil {
		return fmt.Errorf("marking notified: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureGroup(ctx context.Context, gid int64, owners []int64) error {
	return s.withTx(ctx, func(q *Queries) error {
		if err := q.UpsertGroup(ctx, gid, time.Now()); err != nil {
			return fmt.Errorf("upserting group: %w", err)
		}
		if err := q.DeleteGroupOwners(ctx, gid); err != nil {
			return fmt.Errorf("clearing group owners: %w", err)
		}
		for _, owner := range owners {
			if err := q.InsertGroupOwner(ctx, gid, owner); err != nil {
				return fmt.Errorf("inserting group owner: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GroupOwners(ctx context.Context, gid int64) ([]int64, error) {
	owners, err := s.queries.GroupOwners(ctx, gid)
	if err != nil {
		return nil, fmt.Errorf("querying group owners: %w", err)
	}
	return owners, nil
}

func (s *PostgresStore) WarnedSince(ctx context.Context, key FileKey, tminusHours int64, since time.Time) (bool, error) {
	exists, err := s.queries.WarnedSince(ctx, key.Device, key.Inode, tminusHours, since)
	if err != nil {
		return false, fmt.Errorf("querying prior warnings: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) StagedQueue(ctx context.Context, limit int) ([]StagedQueueEntry, error) {
	entries, err := s.queries.StagedQueue(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("querying staged queue: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) DequeueStaged(ctx context.Context, statusID int64) error {
	if err := s.queries.DeleteStagedQueueEntry(ctx, statusID); err != nil {
		return fmt.Errorf("dequeuing staged entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time, nonStagedTTL time.Duration) (int64, error) {
	var purged int64
	err := s.withTx(ctx, func(q *Queries) error {
		n, err := q.PurgeFullyNotifiedDeleted(ctx)
		if err != nil {
			return fmt.Errorf("purging notified deletions: %w", err)
		}
		purged += n

		n, err = q.PurgeStaleUnstaged(ctx, now.Add(-nonStagedTTL))
		if err != nil {
			return fmt.Errorf("purging stale unstaged files: %w", err)
		}
		purged += n
		return nil
	})
	return purged, err
}

func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)

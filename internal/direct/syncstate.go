package direct

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/row"
)

// LedgerEntry is one reconciliation record: a source row mirrored by a
// rule, and the remote row it produced.
type LedgerEntry struct {
	Key         string
	Rule        string
	SourceTable string
	SourceID    string
	RemoteTable string
	RemoteID    string // empty until the remote write succeeds
}

// ClaimSyncKey records e before its remote write.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: if the key was already
// claimed, claimed is false and existing holds the earlier entry.
func (s *Store) ClaimSyncKey(ctx context.Context, e LedgerEntry) (claimed bool, existing LedgerEntry, err error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_ledger
		(id, rule, source_table, source_id, remote_table, remote_id, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(id) DO NOTHING
	`), e.Key, e.Rule, e.SourceTable, e.SourceID, e.RemoteTable, s.arg(row.At(s.now())))
	if err != nil {
		return false, LedgerEntry{}, fmt.Errorf("claim sync key: %w", s.mapError(s.internal(catalog.SyncLedger), err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, LedgerEntry{}, fmt.Errorf("claim sync key: rows affected: %w", err)
	}
	if n > 0 {
		return true, e, nil
	}
	existing, _, err = s.SyncEntry(ctx, e.Key)
	if err != nil {
		return false, LedgerEntry{}, fmt.Errorf("claim sync key: %w", err)
	}
	return false, existing, nil
}

// BindSyncKey records the remote row produced for key.
func (s *Store) BindSyncKey(ctx context.Context, key, remoteID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("UPDATE sync_ledger SET remote_id = ? WHERE id = ?"), remoteID, key)
	if err != nil {
		return fmt.Errorf("bind sync key: %w", err)
	}
	return nil
}

// ReleaseSyncKey forgets a claim whose remote write failed, so the next
// sync attempt for the same source row can try again. Bound keys are kept.
func (s *Store) ReleaseSyncKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM sync_ledger WHERE id = ? AND remote_id IS NULL"), key)
	if err != nil {
		return fmt.Errorf("release sync key: %w", err)
	}
	return nil
}

// SyncEntry looks up a reconciliation record by key.
func (s *Store) SyncEntry(ctx context.Context, key string) (LedgerEntry, bool, error) {
	var e LedgerEntry
	var remote sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, rule, source_table, source_id, remote_table, remote_id
		FROM sync_ledger WHERE id = ?
	`), key).Scan(&e.Key, &e.Rule, &e.SourceTable, &e.SourceID, &e.RemoteTable, &remote)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("sync entry: %w", err)
	}
	e.RemoteID = remote.String
	return e, true, nil
}

// SyncEntries lists the reconciliation records for one source row in key
// order.
func (s *Store) SyncEntries(ctx context.Context, sourceTable, sourceID string) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, rule, source_table, source_id, remote_table, remote_id
		FROM sync_ledger WHERE source_table = ? AND source_id = ?
		ORDER BY id
	`), sourceTable, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sync entries: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var remote sql.NullString
		if err := rows.Scan(&e.Key, &e.Rule, &e.SourceTable, &e.SourceID, &e.RemoteTable, &remote); err != nil {
			return nil, fmt.Errorf("sync entries: %w", err)
		}
		e.RemoteID = remote.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoteIdentity returns the cached remote id for a local identifier of
// the given kind ("user" or "organization").
func (s *Store) RemoteIdentity(ctx context.Context, kind, localID string) (string, bool, error) {
	var remote string
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT remote_id FROM sync_identity_map WHERE kind = ? AND local_id = ?"),
		kind, localID).Scan(&remote)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("remote identity: %w", err)
	}
	return remote, true, nil
}

// SaveIdentity caches a local to remote mapping with the natural key it
// was resolved by.
func (s *Store) SaveIdentity(ctx context.Context, kind, localID, remoteID, naturalKey string) error {
	id, err := row.SyncKey("identity", kind, localID)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO sync_identity_map (id, kind, local_id, remote_id, natural_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, local_id) DO UPDATE SET remote_id = excluded.remote_id, natural_key = excluded.natural_key
	`), id, kind, localID, remoteID, naturalKey, s.arg(row.At(s.now())))
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// ForgetIdentity drops a cached mapping, used when the remote row it
// points at has disappeared.
func (s *Store) ForgetIdentity(ctx context.Context, kind, localID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM sync_identity_map WHERE kind = ? AND local_id = ?"), kind, localID)
	if err != nil {
		return fmt.Errorf("forget identity: %w", err)
	}
	return nil
}

func (s *Store) internal(name string) *catalog.Table {
	t, _ := s.cat.Table(name)
	return t
}

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row is one local record as column name -> value.
type Row = map[string]interface{}

// Store is the local store adapter the sync engine reads and writes through.
// Table names come from the sync table registry; values are plain column maps.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) table(ctx context.Context, name string) *gorm.DB {
	return s.db.WithContext(ctx).Table(name)
}

func firstRow(rows []Row) Row {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// FindByID returns the row with local id, or (nil, nil) when missing.
func (s *Store) FindByID(ctx context.Context, table string, id int) (Row, error) {
	var rows []Row
	if err := s.table(ctx, table).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	return firstRow(rows), nil
}

// FindByRemoteID returns the row bound to remoteID, or (nil, nil) when missing.
func (s *Store) FindByRemoteID(ctx context.Context, table string, remoteID string) (Row, error) {
	if remoteID == "" {
		return nil, nil
	}
	var rows []Row
	if err := s.table(ctx, table).Where("remote_id = ?", remoteID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	return firstRow(rows), nil
}

// FindFirst returns the first row (lowest id) matching all equality conditions, or (nil, nil).
func (s *Store) FindFirst(ctx context.Context, table string, where map[string]interface{}) (Row, error) {
	var rows []Row
	if err := s.table(ctx, table).Where(where).Order("id ASC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	return firstRow(rows), nil
}

// FindUnlinked returns rows not yet bound to a remote id that match scope, oldest first.
// These are the candidates for natural-key linking.
func (s *Store) FindUnlinked(ctx context.Context, table string, scope map[string]interface{}) ([]Row, error) {
	var rows []Row
	q := s.table(ctx, table).Where("remote_id IS NULL")
	if len(scope) > 0 {
		q = q.Where(scope)
	}
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// OwnerHop is one step from a row to the parent leading to its owning business.
type OwnerHop struct {
	Column string
	Table  string
}

// PendingRowsOwnedBy returns the pending rows of table that belong to tenant, in id order.
// chain walks parent columns up to businesses; an empty chain means table is businesses.
func (s *Store) PendingRowsOwnedBy(ctx context.Context, table string, chain []OwnerHop, tenant string) ([]Row, error) {
	q := s.db.WithContext(ctx).Table(table + " AS t0").Select("t0.*")
	alias := "t0"
	for i, hop := range chain {
		next := fmt.Sprintf("t%d", i+1)
		q = q.Joins(fmt.Sprintf("JOIN %s AS %s ON %s.id = %s.%s", hop.Table, next, next, alias, hop.Column))
		alias = next
	}
	var rows []Row
	err := q.Where(alias+".user_id = ?", tenant).
		Where("(t0.sync_status = ? OR t0.sync_status IS NULL)", SyncStatusPending).
		Order("t0.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert adds a downloaded row. The row must carry its remote id, which is how its
// new local id is read back.
func (s *Store) Insert(ctx context.Context, table string, row Row) (int, error) {
	remoteID, _ := row[ColumnRemoteID].(string)
	if remoteID == "" {
		return 0, fmt.Errorf("insert into %s: remote id is required", table)
	}
	var id int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(table).Create(row).Error; err != nil {
			return err
		}
		var ids []int
		if err := tx.Table(table).Where("remote_id = ?", remoteID).Limit(1).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("insert into %s: row for remote id %s not found after insert", table, remoteID)
		}
		id = ids[0]
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateByID(ctx context.Context, table string, id int, values Row) error {
	if len(values) == 0 {
		return nil
	}
	return s.table(ctx, table).Where("id = ?", id).Updates(values).Error
}

// DeleteByRemoteID removes the row bound to remoteID and reports how many rows went away.
func (s *Store) DeleteByRemoteID(ctx context.Context, table string, remoteID string) (int64, error) {
	if remoteID == "" {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE remote_id = ?", clause.Table{Name: table}, remoteID)
	return result.RowsAffected, result.Error
}

// ReserveRemoteID binds candidate to the row unless it already has a remote id, and returns
// whichever id the row ends up with. The row stays pending.
func (s *Store) ReserveRemoteID(ctx context.Context, table string, id int, candidate string) (string, error) {
	if candidate == "" {
		return "", errors.New("remote id is required")
	}
	err := s.table(ctx, table).
		Where("id = ? AND remote_id IS NULL", id).
		Update(ColumnRemoteID, candidate).Error
	if err != nil {
		return "", err
	}
	return s.RemoteIDByLocalID(ctx, table, id)
}

// MarkSynced flips the row to synced without touching updated_at.
func (s *Store) MarkSynced(ctx context.Context, table string, id int) error {
	return s.table(ctx, table).Where("id = ?", id).UpdateColumn(ColumnSyncStatus, SyncStatusSynced).Error
}

// MarkSyncedUnlessChanged marks the row synced only if its updated_at still equals seen,
// so an edit made while the row was being uploaded stays pending.
func (s *Store) MarkSyncedUnlessChanged(ctx context.Context, table string, id int, seen time.Time) (bool, error) {
	synced := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Row
		if err := tx.Table(table).Select(ColumnUpdatedAt).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		current, ok := utils.ToTime(rows[0][ColumnUpdatedAt])
		if ok && !seen.IsZero() && !current.Equal(seen) {
			return nil
		}
		if err := tx.Table(table).Where("id = ?", id).UpdateColumn(ColumnSyncStatus, SyncStatusSynced).Error; err != nil {
			return err
		}
		synced = true
		return nil
	})
	return synced, err
}

// MarkPending flags the row for upload and bumps updated_at.
// The error wraps gorm.ErrRecordNotFound when no row has that id.
func (s *Store) MarkPending(ctx context.Context, table string, id int) error {
	result := s.table(ctx, table).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		ColumnSyncStatus: SyncStatusPending,
		ColumnUpdatedAt:  time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s id %d: %w", table, id, gorm.ErrRecordNotFound)
	}
	return nil
}

// RemoteIDByLocalID returns the row's remote id, "" when the row has none or does not exist.
func (s *Store) RemoteIDByLocalID(ctx context.Context, table string, id int) (string, error) {
	var ids []sql.NullString
	if err := s.table(ctx, table).Where("id = ?", id).Limit(1).Pluck(ColumnRemoteID, &ids).Error; err != nil {
		return "", err
	}
	if len(ids) == 0 || !ids[0].Valid {
		return "", nil
	}
	return ids[0].String, nil
}

// LocalIDByRemoteID returns the local id bound to remoteID; ok is false when there is none.
func (s *Store) LocalIDByRemoteID(ctx context.Context, table string, remoteID string) (int, bool, error) {
	if remoteID == "" {
		return 0, false, nil
	}
	var ids []int
	if err := s.table(ctx, table).Where("remote_id = ?", remoteID).Limit(1).Pluck(ColumnID, &ids).Error; err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

type remoteBinding struct {
	ID       int
	RemoteId string
}

// LocalIDsByRemoteIDs resolves many remote ids at once. Missing ids are absent from the result.
func (s *Store) LocalIDsByRemoteIDs(ctx context.Context, table string, remoteIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(remoteIDs))
	if len(remoteIDs) == 0 {
		return result, nil
	}
	var bindings []remoteBinding
	err := s.table(ctx, table).
		Select("id, remote_id").
		Where("remote_id IN ?", remoteIDs).
		Scan(&bindings).Error
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		result[b.RemoteId] = b.ID
	}
	return result, nil
}

// CountRows counts every row of table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.table(ctx, table).Count(&n).Error
	return n, err
}

// Package store journals what a mesh session learns: the peers it met and
// the state each room started from.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordPeer upserts peer and marks it online.
func (s *Store) RecordPeer(ctx context.Context, peer registry.Peer) error {
	row := Peer{
		ID:      peer.ID,
		Account: peer.Account,
		Time:    peer.Time,
		Data:    peer.Data,
		Online:  true,
		SeenAt:  s.now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"account", "time", "data", "online", "seen_at"}),
	}).Create(&row).Error
}

// ForgetPeer marks id offline. The record is kept for history.
func (s *Store) ForgetPeer(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Peer{}).Where("id = ?", id).Updates(map[string]any{
		"online":          false,
		"disconnected_at": s.now().UnixMilli(),
	}).Error
}

func (s *Store) RecordSnapshot(ctx context.Context, fingerprint string, snapshot map[string]any) error {
	return s.db.WithContext(ctx).Create(&Snapshot{
		Fingerprint: fingerprint,
		State:       snapshot,
		CreatedAt:   s.now().UnixMilli(),
	}).Error
}

func (s *Store) Peer(ctx context.Context, id string) (Peer, error) {
	var p Peer
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Peer{}, ErrNotFound
	}
	return p, err
}

// Peers lists every journaled peer, ordered by id. onlineOnly drops peers
// that disconnected.
func (s *Store) Peers(ctx context.Context, onlineOnly bool) ([]Peer, error) {
	q := s.db.WithContext(ctx).Order("id")
	if onlineOnly {
		q = q.Where("online = ?", true)
	}
	var peers []Peer
	return peers, q.Find(&peers).Error
}

// LatestSnapshot returns the most recent start snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.WithContext(ctx).Order("id desc").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrNotFound
	}
	return snap, err
}

func (s *Store) Snapshots(ctx context.Context, fingerprint string) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Order("id").Find(&snaps).Error
	return snaps, err
}

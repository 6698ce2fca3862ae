// Package storage persists found keys to a local SQLite database so repeated
// runs can skip keys they already hold and browse past finds.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vltier/meshcore-keygen/internal/logger"
	"github.com/vltier/meshcore-keygen/pkg/types"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("storage: record not found")

// KeyRecord is the GORM model for a stored keypair.
type KeyRecord struct {
	ID          string `gorm:"primaryKey;type:uuid"`
	PublicKey   string `gorm:"uniqueIndex;not null;type:varchar(64)"`
	PrivateKey  string `gorm:"not null;type:varchar(128)"`
	NodeID      string `gorm:"index;type:varchar(2)"`
	FirstChars  string `gorm:"index;type:varchar(8)"`
	LastChars   string `gorm:"type:varchar(8)"`
	Pattern     string `gorm:"index;type:varchar(80)"`
	Attempts    uint64
	Source      string `gorm:"type:varchar(20)"`
	MachineHash string `gorm:"index;type:varchar(16)"`
	Tags        string `gorm:"type:text"` // comma separated
	InUse       bool
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM.
func (KeyRecord) TableName() string {
	return "keys"
}

// Stats summarises the database contents.
type Stats struct {
	Total   int64
	InUse   int64
	Machine string
}

// Store is the SQLite-backed key database.
type Store struct {
	db      *gorm.DB
	log     logger.Logger
	machine string
}

// Open opens or creates the database at path and migrates the schema.
// ":memory:" is accepted for tests.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop{}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open key database: %w", err)
	}
	if err := db.AutoMigrate(&KeyRecord{}); err != nil {
		return nil, fmt.Errorf("migrate key database: %w", err)
	}
	return &Store{db: db, log: log, machine: machineHash()}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MachineHash identifies the machine records are written from.
func (s *Store) MachineHash() string {
	return s.machine
}

// Store inserts one candidate. Duplicate public keys are rejected by the
// unique index and reported as an error.
func (s *Store) Store(c *types.Candidate) error {
	rec := s.record(c)
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("store key %s: %w", rec.NodeID, err)
	}
	s.log.Debug("stored key ", rec.PublicKey[:8], " id=", rec.ID)
	return nil
}

// StoreBatch inserts candidates in one transaction. All or nothing.
func (s *Store) StoreBatch(cands []*types.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	recs := make([]*KeyRecord, len(cands))
	for i, c := range cands {
		recs[i] = s.record(c)
	}
	if err := s.db.Create(recs).Error; err != nil {
		return fmt.Errorf("store %d keys: %w", len(recs), err)
	}
	return nil
}

// ExistsByPublicKey reports whether a public key (lowercase hex) is stored.
func (s *Store) ExistsByPublicKey(pubHex string) (bool, error) {
	var count int64
	err := s.db.Model(&KeyRecord{}).
		Where("public_key = ?", strings.ToLower(pubHex)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("existence query: %w", err)
	}
	return count > 0, nil
}

// FindByPrefix returns records whose public key starts with the given hex
// prefix, newest first.
func (s *Store) FindByPrefix(prefix string, limit int) ([]*KeyRecord, error) {
	var recs []*KeyRecord
	q := s.db.Where("public_key LIKE ?", strings.ToLower(prefix)+"%").
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("prefix query: %w", err)
	}
	return recs, nil
}

// FindByPattern returns records found with the given pattern description.
func (s *Store) FindByPattern(pattern string, limit int) ([]*KeyRecord, error) {
	var recs []*KeyRecord
	q := s.db.Where("pattern = ?", pattern).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("pattern query: %w", err)
	}
	return recs, nil
}

// AllPublicKeys returns every stored public key, for seeding the duplicate
// suppression set at startup.
func (s *Store) AllPublicKeys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&KeyRecord{}).Pluck("public_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list public keys: %w", err)
	}
	return keys, nil
}

// AddTag appends a tag to a record.
func (s *Store) AddTag(id, tag string) error {
	rec, err := s.byID(id)
	if err != nil {
		return err
	}
	tags := splitTags(rec.Tags)
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	tags = append(tags, tag)
	return s.db.Model(rec).Update("tags", strings.Join(tags, ",")).Error
}

// RemoveTag removes a tag from a record if present.
func (s *Store) RemoveTag(id, tag string) error {
	rec, err := s.byID(id)
	if err != nil {
		return err
	}
	tags := splitTags(rec.Tags)
	kept := tags[:0]
	for _, t := range tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	return s.db.Model(rec).Update("tags", strings.Join(kept, ",")).Error
}

// Tags returns the tags of a record.
func (s *Store) Tags(id string) ([]string, error) {
	rec, err := s.byID(id)
	if err != nil {
		return nil, err
	}
	return splitTags(rec.Tags), nil
}

// SetInUse flags a record as deployed (or not).
func (s *Store) SetInUse(id string, inUse bool) error {
	rec, err := s.byID(id)
	if err != nil {
		return err
	}
	return s.db.Model(rec).Update("in_use", inUse).Error
}

// Stats returns database totals.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	st.Machine = s.machine
	if err := s.db.Model(&KeyRecord{}).Count(&st.Total).Error; err != nil {
		return st, fmt.Errorf("stats query: %w", err)
	}
	if err := s.db.Model(&KeyRecord{}).Where("in_use = ?", true).Count(&st.InUse).Error; err != nil {
		return st, fmt.Errorf("stats query: %w", err)
	}
	return st, nil
}

func (s *Store) byID(id string) (*KeyRecord, error) {
	var rec KeyRecord
	if err := s.db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("fetch record: %w", err)
	}
	return &rec, nil
}

func (s *Store) record(c *types.Candidate) *KeyRecord {
	pub := c.Key.PublicHex()
	created := c.FoundAt
	if created.IsZero() {
		created = time.Now()
	}
	return &KeyRecord{
		ID:          uuid.New().String(),
		PublicKey:   pub,
		PrivateKey:  c.Key.PrivateHex(),
		NodeID:      c.Key.NodeID(),
		FirstChars:  pub[:8],
		LastChars:   pub[56:],
		Pattern:     c.Pattern,
		Attempts:    c.Attempts,
		Source:      c.Source,
		MachineHash: s.machine,
		CreatedAt:   created,
	}
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// machineHash fingerprints the host so records can be traced to the machine
// that generated them without storing identifying strings directly.
func machineHash() string {
	host, _ := os.Hostname()
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	sum := sha256.Sum256([]byte(host + "|" + name + "|" + runtime.GOOS))
	return hex.EncodeToString(sum[:8])
}

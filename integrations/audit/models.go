package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is one committed ledger event in the append-only audit trail. Each
// record commits to its predecessor through PrevDigest.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	PrevDigest string    `gorm:"size:64"`
	Digest     string    `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// TableName pins the table name independently of the struct name.
func (Record) TableName() string { return "audit_events" }

// AutoMigrate performs the audit schema migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

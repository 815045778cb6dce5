package models

import (
	"time"

	"gorm.io/datatypes"
)

// Submitter is an API node allowed to write to the ledger
type Submitter struct {
	SubmitterID string    `gorm:"column:submitter_id;primaryKey;type:varchar(50)" json:"submitter_id"`
	Name        string    `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Status      string    `gorm:"column:status;type:varchar(20);default:'active'" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// LedgerRecord is one trace record confirmed in a block. The same shape is kept
// in the chain state and in the query index.
type LedgerRecord struct {
	TxHash      string         `gorm:"column:tx_hash;primaryKey;type:varchar(66)" json:"tx_hash"`
	BlockHeight int64          `gorm:"column:block_height;not null;index" json:"block_height"`
	Kind        string         `gorm:"column:kind;type:varchar(50);not null;index" json:"kind"`
	SubjectID   string         `gorm:"column:subject_id;type:varchar(100);not null;index" json:"subject_id"`
	Actor       string         `gorm:"column:actor;type:varchar(100)" json:"actor"`
	SubmitterID string         `gorm:"column:submitter_id;type:varchar(50);not null;index" json:"submitter_id"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload"`
	Nonce       string         `gorm:"column:nonce;type:varchar(64)" json:"nonce"`
	Status      string         `gorm:"column:status;type:varchar(20);default:'confirmed'" json:"status"`
	Timestamp   time.Time      `gorm:"column:timestamp;not null" json:"timestamp"`

	Submitter *Submitter `gorm:"foreignKey:SubmitterID;references:SubmitterID" json:"-"`
}

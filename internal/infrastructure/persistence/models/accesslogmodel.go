package models

import (
	"time"

	"github.com/veilnet-io/veilnet/internal/domain/node"
)

// AccessLogModel is one append-only audit row for a config fetch.
type AccessLogModel struct {
	ID           uint   `gorm:"primarykey"`
	SubscriberID uint   `gorm:"not null;index:idx_access_subscriber"`
	SourceIP     string `gorm:"size:45"`
	ClientSig    string `gorm:"size:255"`
	NodesServed  int    `gorm:"default:0"`
	CreatedAt    time.Time
}

func (AccessLogModel) TableName() string {
	return "access_logs"
}

func FromAccessLogEntry(entry *node.AccessLogEntry) *AccessLogModel {
	return &AccessLogModel{
		SubscriberID: entry.SubscriberID(),
		SourceIP:     entry.SourceIP(),
		ClientSig:    entry.ClientSig(),
		NodesServed:  entry.NodesServed(),
		CreatedAt:    entry.CreatedAt(),
	}
}

package models

import (
	"time"

	"github.com/veilnet-io/veilnet/internal/domain/node"
)

// DailyTrafficModel snapshots a subscriber's cumulative byte counter on one
// node for one day. The composite unique index backs the upsert.
type DailyTrafficModel struct {
	ID           uint      `gorm:"primarykey"`
	SubscriberID uint      `gorm:"not null;uniqueIndex:idx_daily_sub_node_date"`
	NodeID       uint      `gorm:"not null;uniqueIndex:idx_daily_sub_node_date"`
	Date         time.Time `gorm:"not null;type:date;uniqueIndex:idx_daily_sub_node_date"`
	Bytes        uint64    `gorm:"default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (DailyTrafficModel) TableName() string {
	return "daily_traffic_records"
}

func FromDailyTrafficRecord(rec *node.DailyTrafficRecord) *DailyTrafficModel {
	return &DailyTrafficModel{
		SubscriberID: rec.SubscriberID(),
		NodeID:       rec.NodeID(),
		Date:         rec.Date(),
		Bytes:        rec.Bytes(),
	}
}

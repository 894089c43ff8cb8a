package node

import (
	"errors"
	"time"
)

// DailyTrafficRecord is a per-(subscriber, node, date) snapshot of the node's
// cumulative byte counter. Records are upserted once per day and never
// deleted, so billing history survives a node wipe or reinstall.
type DailyTrafficRecord struct {
	subscriberID uint
	nodeID       uint
	date         time.Time
	bytes        uint64
}

func NewDailyTrafficRecord(subscriberID, nodeID uint, date time.Time, bytes uint64) (*DailyTrafficRecord, error) {
	if subscriberID == 0 {
		return nil, errors.New("subscriber ID cannot be zero")
	}
	if nodeID == 0 {
		return nil, errors.New("node ID cannot be zero")
	}
	return &DailyTrafficRecord{
		subscriberID: subscriberID,
		nodeID:       nodeID,
		date:         date.UTC().Truncate(24 * time.Hour),
		bytes:        bytes,
	}, nil
}

func (r *DailyTrafficRecord) SubscriberID() uint {
	return r.subscriberID
}

func (r *DailyTrafficRecord) NodeID() uint {
	return r.nodeID
}

func (r *DailyTrafficRecord) Date() time.Time {
	return r.date
}

func (r *DailyTrafficRecord) Bytes() uint64 {
	return r.bytes
}

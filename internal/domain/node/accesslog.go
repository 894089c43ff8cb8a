package node

import (
	"errors"
	"time"
)

// AccessLogEntry is one append-only audit record of a subscriber fetching
// configuration through the public endpoint.
type AccessLogEntry struct {
	subscriberID uint
	sourceIP     string
	clientSig    string
	nodesServed  int
	createdAt    time.Time
}

func NewAccessLogEntry(subscriberID uint, sourceIP, clientSig string, nodesServed int) (*AccessLogEntry, error) {
	if subscriberID == 0 {
		return nil, errors.New("subscriber ID cannot be zero")
	}
	return &AccessLogEntry{
		subscriberID: subscriberID,
		sourceIP:     sourceIP,
		clientSig:    clientSig,
		nodesServed:  nodesServed,
		createdAt:    time.Now().UTC(),
	}, nil
}

func (e *AccessLogEntry) SubscriberID() uint {
	return e.subscriberID
}

func (e *AccessLogEntry) SourceIP() string {
	return e.sourceIP
}

func (e *AccessLogEntry) ClientSig() string {
	return e.clientSig
}

func (e *AccessLogEntry) NodesServed() int {
	return e.nodesServed
}

func (e *AccessLogEntry) CreatedAt() time.Time {
	return e.createdAt
}

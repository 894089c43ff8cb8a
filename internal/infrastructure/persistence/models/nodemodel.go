package models

import (
	"time"

	"github.com/veilnet-io/veilnet/internal/domain/node"
)

// NodeModel is the persistence shape of a fleet node. Rows are written by
// admin tooling; the core only updates the capacity counter.
type NodeModel struct {
	ID      uint   `gorm:"primarykey"`
	Name    string `gorm:"not null;size:100"`
	Variant string `gorm:"not null;size:20;index:idx_node_variant"`
	Work    bool   `gorm:"default:true;index:idx_node_work"`
	Role    string `gorm:"not null;size:20;default:primary"`
	Address string `gorm:"not null;size:255"`
	Port    uint16 `gorm:"not null"`

	APIURL      string `gorm:"size:255"`
	APIUsername string `gorm:"size:100"`
	APIPassword string `gorm:"size:255"`
	APIKey      string `gorm:"size:255"`

	SSHHost      string `gorm:"size:255"`
	SSHPort      int    `gorm:"default:22"`
	SSHUser      string `gorm:"size:100"`
	SSHPassword  string `gorm:"size:255"`
	SettingsPath string `gorm:"size:255"`

	Capacity int `gorm:"default:0"`
	MaxKeys  int `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NodeModel) TableName() string {
	return "nodes"
}

// ToNode reconstructs the domain node from this model.
func (m *NodeModel) ToNode() (*node.Node, error) {
	return node.ReconstructNode(
		m.ID,
		m.Name,
		node.Variant(m.Variant),
		m.Work,
		node.Role(m.Role),
		m.Address,
		m.Port,
		node.PanelCredentials{
			APIURL:      m.APIURL,
			APIUsername: m.APIUsername,
			APIPassword: m.APIPassword,
			APIKey:      m.APIKey,
		},
		node.AdminCredentials{
			SSHHost:      m.SSHHost,
			SSHPort:      m.SSHPort,
			SSHUser:      m.SSHUser,
			SSHPassword:  m.SSHPassword,
			SettingsPath: m.SettingsPath,
		},
		m.Capacity,
		m.MaxKeys,
		m.CreatedAt,
	)
}

package node

import (
	"errors"
	"time"
)

// Variant tags which remote-panel dialect a node speaks.
type Variant string

const (
	// VariantReality is an x-ui style panel serving VLESS Reality inbounds.
	VariantReality Variant = "reality"
	// VariantShadowsocks is an Outline style access-key API.
	VariantShadowsocks Variant = "shadowsocks"
	// VariantWireguard is a wg-easy style client API.
	VariantWireguard Variant = "wireguard"
)

func (v Variant) IsValid() bool {
	switch v {
	case VariantReality, VariantShadowsocks, VariantWireguard:
		return true
	}
	return false
}

// KeySuffix is the per-variant label suffix appended to a subscriber's key
// name so that multiple protocols coexist on one physical node without
// collision.
func (v Variant) KeySuffix() string {
	switch v {
	case VariantReality:
		return "_rl"
	case VariantShadowsocks:
		return "_ss"
	case VariantWireguard:
		return "_wg"
	}
	return ""
}

// Role separates the independently billed fleets.
type Role string

const (
	RolePrimary Role = "primary"
	RoleBypass  Role = "bypass"
)

func (r Role) IsValid() bool {
	return r == RolePrimary || r == RoleBypass
}

// PanelCredentials carries what the adapter needs to reach the remote panel.
type PanelCredentials struct {
	APIURL      string
	APIUsername string
	APIPassword string
	APIKey      string
}

// AdminCredentials are the optional out-of-band credentials for the adapter's
// secondary path (direct mutation of the panel's settings store). Absence is
// normal; the fallback is best effort, never a guaranteed capability.
type AdminCredentials struct {
	SSHHost      string
	SSHPort      int
	SSHUser      string
	SSHPassword  string
	SettingsPath string
}

func (a AdminCredentials) Configured() bool {
	return a.SSHHost != "" && a.SSHUser != "" && a.SettingsPath != ""
}

// Node is one remote proxy machine. Rows are managed by admin tooling; the
// core reads them and only mutates the capacity counter when it places a key.
type Node struct {
	id         uint
	name       string
	variant    Variant
	work       bool
	role       Role
	address    string
	port       uint16
	panelCreds PanelCredentials
	adminCreds AdminCredentials
	capacity   int
	maxKeys    int
	createdAt  time.Time
}

// ReconstructNode restores a node from persistence.
func ReconstructNode(
	id uint,
	name string,
	variant Variant,
	work bool,
	role Role,
	address string,
	port uint16,
	panelCreds PanelCredentials,
	adminCreds AdminCredentials,
	capacity int,
	maxKeys int,
	createdAt time.Time,
) (*Node, error) {
	if id == 0 {
		return nil, errors.New("node ID cannot be zero")
	}
	if !variant.IsValid() {
		return nil, errors.New("invalid node variant")
	}
	if !role.IsValid() {
		return nil, errors.New("invalid node role")
	}
	return &Node{
		id:         id,
		name:       name,
		variant:    variant,
		work:       work,
		role:       role,
		address:    address,
		port:       port,
		panelCreds: panelCreds,
		adminCreds: adminCreds,
		capacity:   capacity,
		maxKeys:    maxKeys,
		createdAt:  createdAt,
	}, nil
}

func (n *Node) ID() uint {
	return n.id
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Variant() Variant {
	return n.variant
}

// IsWork reports the admin-managed reachability flag.
func (n *Node) IsWork() bool {
	return n.work
}

func (n *Node) Role() Role {
	return n.role
}

func (n *Node) Address() string {
	return n.address
}

func (n *Node) Port() uint16 {
	return n.port
}

func (n *Node) PanelCredentials() PanelCredentials {
	return n.panelCreds
}

func (n *Node) AdminCredentials() AdminCredentials {
	return n.adminCreds
}

func (n *Node) Capacity() int {
	return n.capacity
}

func (n *Node) MaxKeys() int {
	return n.maxKeys
}

// UnderCapacity reports whether the node may take another key.
// A zero maxKeys means unlimited.
func (n *Node) UnderCapacity() bool {
	return n.maxKeys == 0 || n.capacity < n.maxKeys
}

// IncrementCapacity records one more placed key.
func (n *Node) IncrementCapacity() {
	n.capacity++
}

func (n *Node) CreatedAt() time.Time {
	return n.createdAt
}

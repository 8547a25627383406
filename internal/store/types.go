package store

import (
	"encoding/json"
	"time"
)

// Node describes a remote execution host running a node agent.
type Node struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	APIKey  string `json:"api_key"`
}

// Image is one catalog entry. Lookups match on the Image reference exactly.
type Image struct {
	Image     string   `json:"image"`
	Scripts   []string `json:"scripts"`
	AltImages []string `json:"alt_images"`
}

// Instance is the authoritative record for one deployed container. The same
// record is mirrored into the global and per-user instance lists.
type Instance struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	User        string          `json:"user"`
	Node        Node            `json:"node"`
	ContainerID string          `json:"container_id"`
	VolumeID    string          `json:"volume_id"`
	Memory      int             `json:"memory"`
	CPU         int             `json:"cpu"`
	Ports       string          `json:"ports"`
	Primary     string          `json:"primary"`
	Env         []string        `json:"env"`
	Image       string          `json:"image"`
	AltImages   []string        `json:"alt_images"`
	ImageData   json.RawMessage `json:"image_data,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

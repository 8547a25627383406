package api

import "github.com/skyportlabs/panel/internal/store"

// SuccessEnvelope wraps every successful response.
type SuccessEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RedeployData is the payload of a successful redeploy response.
type RedeployData struct {
	ContainerID string `json:"containerId"`
	VolumeID    string `json:"volumeId"`
	InstanceID  string `json:"instanceId"`
}

type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type InstanceListResponse struct {
	Success   bool             `json:"success"`
	Instances []store.Instance `json:"instances"`
}

type InstanceResponse struct {
	Success  bool           `json:"success"`
	Instance store.Instance `json:"instance"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime_seconds"`
	StoreOK bool   `json:"store_ok"`
}

type ReadyResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

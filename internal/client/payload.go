package client

import "rcagent/internal/store"

// Wire shapes for the poll request body. Field names are fixed by the
// remote configuration protocol.

type configState struct {
	ID         string `json:"id"`
	Version    uint64 `json:"version"`
	Product    string `json:"product"`
	ApplyState int    `json:"apply_state"`
	ApplyError string `json:"apply_error,omitempty"`
}

type clientState struct {
	RootVersion        int           `json:"root_version"`
	TargetsVersion     uint64        `json:"targets_version"`
	ConfigStates       []configState `json:"config_states"`
	HasError           bool          `json:"has_error"`
	BackendClientState string        `json:"backend_client_state,omitempty"`
	Error              string        `json:"error,omitempty"`
}

type clientTracer struct {
	RuntimeID     string   `json:"runtime_id"`
	Language      string   `json:"language"`
	TracerVersion string   `json:"tracer_version"`
	Service       string   `json:"service,omitempty"`
	ExtraServices []string `json:"extra_services"`
	Env           string   `json:"env,omitempty"`
	AppVersion    string   `json:"app_version,omitempty"`
	Tags          []string `json:"tags"`
}

type clientPayload struct {
	ID           string       `json:"id"`
	Products     []string     `json:"products"`
	IsTracer     bool         `json:"is_tracer"`
	ClientTracer clientTracer `json:"client_tracer"`
	State        clientState  `json:"state"`
	Capabilities string       `json:"capabilities"`
}

type requestPayload struct {
	Client            clientPayload      `json:"client"`
	CachedTargetFiles []store.CachedFile `json:"cached_target_files"`
}

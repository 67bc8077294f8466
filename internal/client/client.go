// Package client implements the remote configuration poll client: it builds
// the outbound status payload, performs one synchronous exchange with the
// control plane, validates the signed response, and drives the diff engine
// and product dispatch.
package client

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"rcagent/internal/capability"
	"rcagent/internal/product"
	"rcagent/internal/store"
	"rcagent/internal/transport"
	"rcagent/internal/version"
)

// Options configures a Client at construction. There is no ambient
// configuration: everything the client reads is passed in here.
type Options struct {
	// Transport performs the request/response exchange. Required.
	Transport transport.Transport

	// Registry maps product names to subscribers. A nil registry gets a
	// fresh empty one.
	Registry *product.Registry

	// Store holds the applied-config set. A nil store gets a fresh one.
	Store *store.Store

	// Logger for cycle diagnostics.
	Logger *slog.Logger

	// LogPayloads logs full request/response bodies at debug level.
	LogPayloads bool

	// SkipShutdown leaves subscriber pipelines running at shutdown.
	SkipShutdown bool

	// Capabilities is the advertised protocol feature set.
	Capabilities capability.Set

	// Identity reported in the client payload.
	Service       string
	Env           string
	AppVersion    string
	ExtraServices []string
	Tags          map[string]string
}

// Client is the remote configuration client. One instance exists per
// process; Request serializes itself with a mutex, and all cross-cycle
// state is mutated only inside that critical section.
type Client struct {
	mu sync.Mutex

	id        string
	runtimeID string

	transport    transport.Transport
	registry     *product.Registry
	store        *store.Store
	log          *slog.Logger
	logPayloads  bool
	skipShutdown bool
	capabilities capability.Set
	tracer       clientTracer

	lastTargetsVersion uint64
	backendState       string
	lastError          string
}

// New creates a client. The identity id and runtime id are generated fresh;
// call RenewID after a fork-like re-initialization.
func New(opts Options) *Client {
	if opts.Registry == nil {
		opts.Registry = product.NewRegistry()
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hostname, _ := os.Hostname()
	tags := make([]string, 0, len(opts.Tags)+4)
	for k, v := range opts.Tags {
		tags = append(tags, k+":"+v)
	}
	if opts.Env != "" {
		tags = append(tags, "env:"+opts.Env)
	}
	if opts.AppVersion != "" {
		tags = append(tags, "version:"+opts.AppVersion)
	}
	tags = append(tags, "tracer_version:"+version.Version)
	if hostname != "" {
		tags = append(tags, "host_name:"+hostname)
	}
	sort.Strings(tags)

	extraServices := opts.ExtraServices
	if extraServices == nil {
		extraServices = []string{}
	}

	return &Client{
		id:           uuid.NewString(),
		runtimeID:    uuid.NewString(),
		transport:    opts.Transport,
		registry:     opts.Registry,
		store:        opts.Store,
		log:          opts.Logger,
		logPayloads:  opts.LogPayloads,
		skipShutdown: opts.SkipShutdown,
		capabilities: opts.Capabilities,
		tracer: clientTracer{
			Language:      "go",
			TracerVersion: version.Version,
			Service:       opts.Service,
			ExtraServices: extraServices,
			Env:           opts.Env,
			AppVersion:    opts.AppVersion,
			Tags:          tags,
		},
	}
}

// ID returns the client identity sent with every request.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// RenewID regenerates the client id and embedded runtime id. Must be called
// after the process forks so the child reports a distinct identity.
func (c *Client) RenewID() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = uuid.NewString()
	c.runtimeID = uuid.NewString()
}

// RegisterProduct binds a subscriber to a product name; a nil subscriber
// unregisters it.
func (c *Client) RegisterProduct(name string, sub product.Subscriber) {
	c.registry.Register(name, sub)
}

// UnregisterProduct removes a product registration.
func (c *Client) UnregisterProduct(name string) {
	c.registry.Unregister(name)
}

// StartProducts activates the subscribers for the given products.
func (c *Client) StartProducts(names ...string) {
	c.registry.Start(names...)
}

// SkipShutdown reports whether subscriber pipelines should be left running
// at shutdown.
func (c *Client) SkipShutdown() bool { return c.skipShutdown }

// AppliedCount returns the number of currently applied configs.
func (c *Client) AppliedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// LastError returns the error recorded by the most recent failed cycle,
// empty after a successful one.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Request performs one poll cycle: build state, exchange with the control
// plane, validate and apply the response. It never panics or returns an
// error; all failure collapses to false with the cause recorded for the
// next cycle's status report. A 404 or empty response means remote
// configuration is disabled for this agent and returns false silently.
func (c *Client) Request() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(c.buildPayload(c.buildState()))
	if err != nil {
		c.log.Warn("failed to encode request payload", "error", err)
		return false
	}
	if c.logPayloads {
		c.log.Debug("remote config request payload", "payload", string(body))
	}

	data, err := c.transport.RoundTrip(body)
	if errors.Is(err, transport.ErrNotEnabled) {
		c.log.Debug("remote configuration not enabled by agent")
		return false
	}
	if err != nil {
		c.lastError = err.Error()
		c.log.Debug("remote config request failed", "error", err)
		return false
	}
	if c.logPayloads {
		c.log.Debug("remote config response payload", "payload", string(data))
	}

	if err := c.processResponse(data); err != nil {
		c.lastError = err.Error()
		c.log.Debug("remote config response rejected", "error", err)
		return false
	}
	c.lastError = ""
	return true
}

// buildState assembles the status block reporting the previous cycle's
// outcome back to the control plane.
func (c *Client) buildState() clientState {
	applied := c.store.Applied()
	states := make([]configState, 0, len(applied))
	for _, cfg := range applied {
		cs := configState{
			ID:         cfg.Meta.ID,
			Version:    cfg.Meta.TUFVersion,
			Product:    cfg.Meta.Product,
			ApplyState: int(cfg.Meta.ApplyState),
		}
		if cfg.Meta.ApplyError != "" {
			cs.ApplyError = cfg.Meta.ApplyError
		}
		states = append(states, cs)
	}

	return clientState{
		RootVersion:        1,
		TargetsVersion:     c.lastTargetsVersion,
		ConfigStates:       states,
		HasError:           c.lastError != "",
		BackendClientState: c.backendState,
		Error:              c.lastError,
	}
}

func (c *Client) buildPayload(state clientState) requestPayload {
	tracer := c.tracer
	tracer.RuntimeID = c.runtimeID

	cached := c.store.CachedFiles()
	if cached == nil {
		cached = []store.CachedFile{}
	}

	return requestPayload{
		Client: clientPayload{
			ID:           c.id,
			Products:     c.registry.Names(),
			IsTracer:     true,
			ClientTracer: tracer,
			State:        state,
			Capabilities: c.capabilities.Encode(),
		},
		CachedTargetFiles: cached,
	}
}

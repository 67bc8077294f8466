// Package store owns the client's notion of "what is currently applied":
// the applied-config set, the diff engine that reconciles it with each
// cycle's signed targets, and the cached target-file descriptors advertised
// back to the control plane. An optional SQLite journal records apply
// outcomes for operator audit.
package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"rcagent/internal/product"
	"rcagent/internal/tuf"
)

// HashDesc is one content digest inside a cached target-file descriptor.
type HashDesc struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

// CachedFile describes content the client already holds, letting the
// control plane send delta responses.
type CachedFile struct {
	Path   string     `json:"path"`
	Length uint64     `json:"length"`
	Hashes []HashDesc `json:"hashes"`
}

// AppliedConfig pairs a target path with its metadata for status reporting.
type AppliedConfig struct {
	Path string
	Meta tuf.ConfigMetadata
}

// Recorder receives apply/remove outcomes after each successful cycle.
// Implementations must tolerate being called from the single poll goroutine
// only.
type Recorder interface {
	Record(recs []ApplyRecord) error
}

// ApplyRecord is one journal entry.
type ApplyRecord struct {
	Time       time.Time
	Action     string // "apply" or "remove"
	Path       string
	Product    string
	ConfigID   string
	Version    uint64
	ApplyState tuf.ApplyState
	ApplyError string
}

// Update is the per-cycle input to the diff engine, derived from a
// validated agent payload.
type Update struct {
	Payload *tuf.AgentPayload
	// Targets is every entry of the signed targets map, resolved through
	// the target path parser.
	Targets map[string]tuf.ConfigMetadata
	// ClientConfigs is the subset of Targets addressed to this client.
	ClientConfigs map[string]tuf.ConfigMetadata
}

// Store holds the applied-config set across cycles. It is mutated only at
// the end of a successful cycle and only from the single poll goroutine.
type Store struct {
	applied map[string]tuf.ConfigMetadata
	cached  []CachedFile

	log      *slog.Logger
	recorder Recorder
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithRecorder attaches an apply-history recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		applied: make(map[string]tuf.ConfigMetadata),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Applied returns the applied configs sorted by target path.
func (s *Store) Applied() []AppliedConfig {
	paths := make([]string, 0, len(s.applied))
	for path := range s.applied {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	configs := make([]AppliedConfig, 0, len(paths))
	for _, path := range paths {
		configs = append(configs, AppliedConfig{Path: path, Meta: s.applied[path]})
	}
	return configs
}

// Len returns the number of applied configs.
func (s *Store) Len() int { return len(s.applied) }

// CachedFiles returns the target-file descriptors built from the applied
// set after the last successful cycle.
func (s *Store) CachedFiles() []CachedFile { return s.cached }

// HasCachedPath reports whether a path was cached after the last cycle.
func (s *Store) HasCachedPath(path string) bool {
	for _, f := range s.cached {
		if f.Path == path {
			return true
		}
	}
	return false
}

// Apply reconciles the previous applied set with the cycle's update,
// dispatching removals and additions to the registered products, then
// commits the new applied set and rebuilds the cached-file descriptors.
//
// A returned error is a ProtocolError: the cycle is fatal and no state is
// committed. Consumer failures never surface as errors; they are recorded
// as apply_state=ERROR on the affected config.
func (s *Store) Apply(u Update, products *product.Registry) error {
	next := make(map[string]tuf.ConfigMetadata)
	var touched []product.Subscriber
	var journal []ApplyRecord

	s.removeStale(u, products, next, &touched, &journal)
	if err := s.loadNew(u, products, next, &touched, &journal); err != nil {
		return err
	}

	for _, sub := range touched {
		sub.Publish()
	}

	s.applied = next
	s.rebuildCache()

	if s.recorder != nil && len(journal) > 0 {
		if err := s.recorder.Record(journal); err != nil {
			s.log.Warn("failed to record apply history", "error", err)
		}
	}
	return nil
}

// removeStale is the removal pass. For every previously applied target:
// carry it forward untouched when the client config is content-identical;
// dispatch a removal when the target vanished from the full targets map;
// otherwise do nothing (the target was demoted from this client without
// revocation) and let it drop out of the applied set.
func (s *Store) removeStale(u Update, products *product.Registry, next map[string]tuf.ConfigMetadata, touched *[]product.Subscriber, journal *[]ApplyRecord) {
	for _, path := range sortedPaths(s.applied) {
		meta := s.applied[path]

		if nc, ok := u.ClientConfigs[path]; ok && nc.Equal(meta) {
			next[path] = meta
			continue
		}
		if _, ok := u.Targets[path]; ok {
			continue
		}

		sub := products.Get(meta.Product)
		if sub == nil {
			// No handler for the product anymore; the config is orphaned.
			continue
		}
		s.log.Debug("disabling configuration", "path", path, "product", meta.Product)
		if err := dispatch(touched, sub, nil, path, meta); err != nil {
			s.log.Warn("error while removing config", "path", path, "product", meta.Product, "error", err)
			continue
		}
		*journal = append(*journal, ApplyRecord{
			Time:     time.Now().UTC(),
			Action:   "remove",
			Path:     path,
			Product:  meta.Product,
			ConfigID: meta.ID,
			Version:  meta.TUFVersion,
		})
	}
}

// loadNew is the addition/update pass over the cycle's client configs.
func (s *Store) loadNew(u Update, products *product.Registry, next map[string]tuf.ConfigMetadata, touched *[]product.Subscriber, journal *[]ApplyRecord) error {
	for _, path := range sortedPaths(u.ClientConfigs) {
		meta := u.ClientConfigs[path]

		sub := products.Get(meta.Product)
		if sub == nil {
			continue
		}
		if prev, ok := s.applied[path]; ok && prev.Equal(meta) {
			// Unchanged config, already carried forward; must not
			// double-apply.
			continue
		}

		content, err := extractTargetFile(u.Payload, path, meta, s.log)
		if err != nil {
			return err
		}
		if content == nil {
			// Resolution failure: dropped from this cycle, retried when the
			// server resends it.
			continue
		}

		s.log.Debug("loading new configuration", "path", path, "product", meta.Product)
		if err := dispatch(touched, sub, content, path, meta); err != nil {
			meta.ApplyState = tuf.ApplyStateError
			meta.ApplyError = "failed to apply configuration " + meta.ID + " for product " + meta.Product + ": " + err.Error()
			s.log.Warn("product rejected configuration", "path", path, "product", meta.Product, "error", err)
		} else {
			meta.ApplyState = tuf.ApplyStateAcknowledged
			meta.ApplyError = ""
		}
		next[path] = meta
		*journal = append(*journal, ApplyRecord{
			Time:       time.Now().UTC(),
			Action:     "apply",
			Path:       path,
			Product:    meta.Product,
			ConfigID:   meta.ID,
			Version:    meta.TUFVersion,
			ApplyState: meta.ApplyState,
			ApplyError: meta.ApplyError,
		})
	}
	return nil
}

// dispatch delivers one operation and tracks the subscriber for the cycle's
// publish phase, de-duplicated by identity.
func dispatch(touched *[]product.Subscriber, sub product.Subscriber, content []byte, path string, meta tuf.ConfigMetadata) error {
	err := sub.Append(content, path, meta)
	for _, seen := range *touched {
		if seen == sub {
			return err
		}
	}
	*touched = append(*touched, sub)
	return err
}

// extractTargetFile resolves a target's raw bytes from the payload. Zero or
// multiple matches is a per-config resolution failure (nil, nil): the cycle
// continues without this config. A base64 error, digest mismatch, or
// non-JSON content is a ProtocolError: the whole cycle aborts.
func extractTargetFile(payload *tuf.AgentPayload, path string, meta tuf.ConfigMetadata, log *slog.Logger) ([]byte, error) {
	var candidates []string
	for _, f := range payload.TargetFiles {
		if f.Path == path {
			candidates = append(candidates, f.Raw)
		}
	}
	if len(candidates) != 1 {
		log.Warn("invalid target_files for config", "path", path, "matches", len(candidates))
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(candidates[0])
	if err != nil {
		return nil, tuf.ProtocolErrorf("invalid base64 target_files for %q", path)
	}

	digest := sha256.Sum256(raw)
	computed := hex.EncodeToString(digest[:])
	if computed != meta.SHA256 {
		return nil, tuf.ProtocolErrorf("mismatch between target %q hashes %q != %q", path, computed, meta.SHA256)
	}

	if !json.Valid(raw) {
		return nil, tuf.ProtocolErrorf("invalid JSON content for target %q", path)
	}
	return raw, nil
}

// rebuildCache rebuilds the cached target-file descriptors from the applied
// set, in sorted path order.
func (s *Store) rebuildCache() {
	if len(s.applied) == 0 {
		s.cached = nil
		return
	}
	cached := make([]CachedFile, 0, len(s.applied))
	for _, path := range sortedPaths(s.applied) {
		meta := s.applied[path]
		cached = append(cached, CachedFile{
			Path:   path,
			Length: meta.Length,
			Hashes: []HashDesc{{Algorithm: "sha256", Hash: meta.SHA256}},
		})
	}
	s.cached = cached
}

func sortedPaths(m map[string]tuf.ConfigMetadata) []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

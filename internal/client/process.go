package client

import (
	"rcagent/internal/store"
	"rcagent/internal/tuf"
)

// processResponse decodes and validates one poll response, hands it to the
// diff engine, and on success commits the targets version and backend state
// for the next request. Any returned error is treated as fatal for the
// cycle: nothing is committed.
func (c *Client) processResponse(data []byte) error {
	payload, err := tuf.DecodeAgentPayload(data)
	if err != nil {
		return err
	}

	// Every requested config must be resolvable, either from this
	// response's target files or from content we already cached.
	shipped := make(map[string]bool, len(payload.TargetFiles))
	for _, f := range payload.TargetFiles {
		shipped[f.Path] = true
	}
	for _, path := range payload.ClientConfigs {
		if !shipped[path] && !c.store.HasCachedPath(path) {
			return tuf.ProtocolErrorf("target file %s not exists in client_config and cached_target_files", path)
		}
	}

	if payload.Targets == nil {
		// Nothing to reconcile this cycle.
		return nil
	}

	targets, err := resolveTargets(payload.Targets)
	if err != nil {
		return err
	}

	// The requested set is the filtered intersection: a client_configs path
	// the signed targets never mention is ignored, not an error.
	clientConfigs := make(map[string]tuf.ConfigMetadata, len(payload.ClientConfigs))
	for _, path := range payload.ClientConfigs {
		if meta, ok := targets[path]; ok {
			clientConfigs[path] = meta
		}
	}

	// Shipped files outside both the signed targets and the requested set
	// are unsolicited content. Skipped when either map is empty.
	for _, f := range payload.TargetFiles {
		_, inTargets := targets[f.Path]
		_, inClient := clientConfigs[f.Path]
		if len(targets) > 0 && !inTargets && len(clientConfigs) > 0 && !inClient {
			return tuf.ProtocolErrorf("target file %s not exists in client_config and signed targets", f.Path)
		}
	}

	if err := c.store.Apply(store.Update{
		Payload:       payload,
		Targets:       targets,
		ClientConfigs: clientConfigs,
	}, c.registry); err != nil {
		return err
	}

	c.lastTargetsVersion = payload.Targets.Signed.Version
	c.backendState = payload.Targets.Signed.BackendState()
	return nil
}

// resolveTargets parses every signed target path and builds the metadata map
// keyed by target path. A malformed path invalidates the whole response. A
// missing sha256 digest is carried through as empty: it only matters once a
// config is actually fetched, where the digest check rejects it.
func resolveTargets(signed *tuf.SignedTargets) (map[string]tuf.ConfigMetadata, error) {
	targets := make(map[string]tuf.ConfigMetadata, len(signed.Signed.Targets))
	for path, desc := range signed.Signed.Targets {
		tp, err := tuf.ParseTargetPath(path)
		if err != nil {
			return nil, err
		}
		targets[path] = tuf.ConfigMetadata{
			ID:         tp.ConfigID,
			Product:    tp.Product,
			SHA256:     desc.Hashes["sha256"],
			Length:     desc.Length,
			TUFVersion: desc.Custom.Version,
			ApplyState: tuf.ApplyStateUnacknowledged,
		}
	}
	return targets, nil
}

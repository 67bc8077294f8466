package store

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcagent/internal/product"
	"rcagent/internal/tuf"
)

// fakeSub records deliveries synchronously.
type fakeSub struct {
	appends   []appendCall
	publishes int
	failIDs   map[string]bool
}

type appendCall struct {
	content []byte
	path    string
	meta    tuf.ConfigMetadata
}

func (f *fakeSub) Append(content []byte, path string, meta tuf.ConfigMetadata) error {
	f.appends = append(f.appends, appendCall{content: content, path: path, meta: meta})
	if f.failIDs[meta.ID] {
		return errors.New("consumer refused")
	}
	return nil
}

func (f *fakeSub) Publish() { f.publishes++ }
func (f *fakeSub) Start()   {}

func metaFor(product, id string, content []byte, version uint64) tuf.ConfigMetadata {
	digest := sha256.Sum256(content)
	return tuf.ConfigMetadata{
		ID:         id,
		Product:    product,
		SHA256:     hex.EncodeToString(digest[:]),
		Length:     uint64(len(content)),
		TUFVersion: version,
		ApplyState: tuf.ApplyStateUnacknowledged,
	}
}

// updateBuilder assembles a cycle input from (path, product, id, content)
// tuples, computing hashes and encoding target files.
type updateBuilder struct {
	targets       map[string]tuf.ConfigMetadata
	clientConfigs map[string]tuf.ConfigMetadata
	files         []tuf.TargetFile
}

func newUpdate() *updateBuilder {
	return &updateBuilder{
		targets:       make(map[string]tuf.ConfigMetadata),
		clientConfigs: make(map[string]tuf.ConfigMetadata),
	}
}

func (b *updateBuilder) target(path, product, id string, content []byte, version uint64) *updateBuilder {
	b.targets[path] = metaFor(product, id, content, version)
	return b
}

func (b *updateBuilder) forClient(path string) *updateBuilder {
	b.clientConfigs[path] = b.targets[path]
	return b
}

func (b *updateBuilder) file(path string, content []byte) *updateBuilder {
	b.files = append(b.files, tuf.TargetFile{Path: path, Raw: base64.StdEncoding.EncodeToString(content)})
	return b
}

func (b *updateBuilder) build() Update {
	return Update{
		Payload:       &tuf.AgentPayload{TargetFiles: b.files},
		Targets:       b.targets,
		ClientConfigs: b.clientConfigs,
	}
}

func registryWith(t *testing.T, name string, sub product.Subscriber) *product.Registry {
	t.Helper()
	r := product.NewRegistry()
	r.Register(name, sub)
	return r
}

func TestApplyFreshConfig(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"rate": 0.5}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	u := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build()

	require.NoError(t, s.Apply(u, reg))

	require.Len(t, sub.appends, 1)
	assert.Equal(t, content, sub.appends[0].content)
	assert.Equal(t, path, sub.appends[0].path)
	assert.Equal(t, 1, sub.publishes)

	applied := s.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, tuf.ApplyStateAcknowledged, applied[0].Meta.ApplyState)
	assert.Empty(t, applied[0].Meta.ApplyError)

	cached := s.CachedFiles()
	require.Len(t, cached, 1)
	assert.Equal(t, path, cached[0].Path)
	assert.Equal(t, uint64(len(content)), cached[0].Length)
	require.Len(t, cached[0].Hashes, 1)
	assert.Equal(t, "sha256", cached[0].Hashes[0].Algorithm)
	assert.True(t, s.HasCachedPath(path))
}

func TestApplyUnchangedConfigNotRedelivered(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"rate": 0.5}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	u := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build()
	require.NoError(t, s.Apply(u, reg))
	require.Len(t, sub.appends, 1)

	// Same targets again, this time without the file body (the client
	// advertised it as cached).
	u2 := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).build()
	require.NoError(t, s.Apply(u2, reg))

	assert.Len(t, sub.appends, 1, "unchanged config must not be re-delivered")
	assert.Equal(t, 1, sub.publishes, "untouched subscriber must not be re-published")
	assert.Equal(t, 1, s.Len())
}

func TestApplyChangedContentRedelivered(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	path := "datadog/2/APM_TRACING/cfg1/config"
	v1 := []byte(`{"rate": 0.5}`)
	require.NoError(t, s.Apply(newUpdate().target(path, "APM_TRACING", "cfg1", v1, 1).forClient(path).file(path, v1).build(), reg))

	v2 := []byte(`{"rate": 0.9}`)
	require.NoError(t, s.Apply(newUpdate().target(path, "APM_TRACING", "cfg1", v2, 2).forClient(path).file(path, v2).build(), reg))

	require.Len(t, sub.appends, 2)
	assert.Equal(t, v2, sub.appends[1].content)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, uint64(2), s.Applied()[0].Meta.TUFVersion)
}

func TestApplyConsumerErrorMarksConfig(t *testing.T) {
	sub := &fakeSub{failIDs: map[string]bool{"bad": true}}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	good := []byte(`{"ok": true}`)
	bad := []byte(`{"ok": false}`)
	goodPath := "datadog/2/APM_TRACING/good/config"
	badPath := "datadog/2/APM_TRACING/bad/config"

	u := newUpdate().
		target(goodPath, "APM_TRACING", "good", good, 1).forClient(goodPath).file(goodPath, good).
		target(badPath, "APM_TRACING", "bad", bad, 1).forClient(badPath).file(badPath, bad).
		build()

	require.NoError(t, s.Apply(u, reg), "consumer errors are not cycle errors")
	assert.Equal(t, 1, sub.publishes)

	byID := make(map[string]tuf.ConfigMetadata)
	for _, cfg := range s.Applied() {
		byID[cfg.Meta.ID] = cfg.Meta
	}
	require.Len(t, byID, 2, "errored config is still recorded as applied")
	assert.Equal(t, tuf.ApplyStateAcknowledged, byID["good"].ApplyState)
	assert.Equal(t, tuf.ApplyStateError, byID["bad"].ApplyState)
	assert.Contains(t, byID["bad"].ApplyError, "failed to apply configuration bad for product APM_TRACING")
	assert.Contains(t, byID["bad"].ApplyError, "consumer refused")
}

func TestApplyErroredConfigNotRetriedWhenUnchanged(t *testing.T) {
	sub := &fakeSub{failIDs: map[string]bool{"bad": true}}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"x":1}`)
	path := "datadog/2/APM_TRACING/bad/config"
	u := newUpdate().target(path, "APM_TRACING", "bad", content, 1).forClient(path).file(path, content).build()
	require.NoError(t, s.Apply(u, reg))
	require.Len(t, sub.appends, 1)

	// Identical content next cycle: equality ignores the error transition.
	u2 := newUpdate().target(path, "APM_TRACING", "bad", content, 1).forClient(path).build()
	require.NoError(t, s.Apply(u2, reg))

	assert.Len(t, sub.appends, 1)
	assert.Equal(t, tuf.ApplyStateError, s.Applied()[0].Meta.ApplyState)
}

func TestApplyRemoval(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"x":1}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	require.NoError(t, s.Apply(newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build(), reg))

	// Target vanished entirely: revocation.
	require.NoError(t, s.Apply(newUpdate().build(), reg))

	require.Len(t, sub.appends, 2)
	assert.Nil(t, sub.appends[1].content, "removal delivers nil content")
	assert.Equal(t, path, sub.appends[1].path)
	assert.Equal(t, 2, sub.publishes)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.CachedFiles())
}

func TestApplyDemotedTargetDropsSilently(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"x":1}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	require.NoError(t, s.Apply(newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build(), reg))

	// Still in the signed targets, but no longer addressed to this client.
	u := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).build()
	require.NoError(t, s.Apply(u, reg))

	assert.Len(t, sub.appends, 1, "no removal dispatch for a demoted target")
	assert.Equal(t, 0, s.Len(), "demoted config leaves the applied set")
}

func TestApplyOrphanedProductSkipped(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"x":1}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	require.NoError(t, s.Apply(newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build(), reg))

	// The product handler went away before the revocation arrived.
	reg.Unregister("APM_TRACING")
	require.NoError(t, s.Apply(newUpdate().build(), reg))

	assert.Len(t, sub.appends, 1, "no dispatch without a registered handler")
	assert.Equal(t, 0, s.Len())
}

func TestApplyPublishDeduplicated(t *testing.T) {
	sub := &fakeSub{}
	reg := product.NewRegistry()
	reg.Register("APM_TRACING", sub)
	s := New()

	a := []byte(`{"a":1}`)
	b := []byte(`{"b":2}`)
	pa := "datadog/2/APM_TRACING/cfga/config"
	pb := "datadog/2/APM_TRACING/cfgb/config"
	u := newUpdate().
		target(pa, "APM_TRACING", "cfga", a, 1).forClient(pa).file(pa, a).
		target(pb, "APM_TRACING", "cfgb", b, 1).forClient(pb).file(pb, b).
		build()

	require.NoError(t, s.Apply(u, reg))
	assert.Len(t, sub.appends, 2)
	assert.Equal(t, 1, sub.publishes, "one publish per subscriber per cycle")
}

func TestApplyTwoProductsPublishedOnceEach(t *testing.T) {
	tracing := &fakeSub{}
	asm := &fakeSub{}
	reg := product.NewRegistry()
	reg.Register("APM_TRACING", tracing)
	reg.Register("ASM_DD", asm)
	s := New()

	a := []byte(`{"a":1}`)
	b := []byte(`{"b":2}`)
	pa := "datadog/2/APM_TRACING/cfga/config"
	pb := "datadog/2/ASM_DD/cfgb/config"
	u := newUpdate().
		target(pa, "APM_TRACING", "cfga", a, 1).forClient(pa).file(pa, a).
		target(pb, "ASM_DD", "cfgb", b, 1).forClient(pb).file(pb, b).
		build()

	require.NoError(t, s.Apply(u, reg))
	assert.Equal(t, 1, tracing.publishes)
	assert.Equal(t, 1, asm.publishes)
	require.Len(t, tracing.appends, 1)
	require.Len(t, asm.appends, 1)
}

func TestApplyHashMismatchIsFatal(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{"x":1}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	b := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path)
	b.file(path, []byte(`{"tampered":true}`))
	err := s.Apply(b.build(), reg)

	require.Error(t, err)
	var perr *tuf.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "hashes")

	assert.Equal(t, 0, s.Len(), "no state committed on a fatal cycle")
	assert.Empty(t, s.CachedFiles())
}

func TestApplyMissingDigestFatalWhenFetched(t *testing.T) {
	reg := registryWith(t, "APM_TRACING", &fakeSub{})
	s := New()

	// Metadata without a sha256 digest is tolerated until the config is
	// actually fetched; at that point the digest check rejects it.
	content := []byte(`{}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	b := newUpdate()
	m := metaFor("APM_TRACING", "cfg1", content, 1)
	m.SHA256 = ""
	b.targets[path] = m
	b.clientConfigs[path] = m
	b.file(path, content)

	err := s.Apply(b.build(), reg)
	var perr *tuf.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "hashes")
	assert.Equal(t, 0, s.Len())
}

func TestApplyBadBase64IsFatal(t *testing.T) {
	reg := registryWith(t, "APM_TRACING", &fakeSub{})
	s := New()

	path := "datadog/2/APM_TRACING/cfg1/config"
	b := newUpdate().target(path, "APM_TRACING", "cfg1", []byte(`{}`), 1).forClient(path)
	b.files = append(b.files, tuf.TargetFile{Path: path, Raw: "!!!not-base64!!!"})

	err := s.Apply(b.build(), reg)
	var perr *tuf.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "base64")
}

func TestApplyNonJSONContentIsFatal(t *testing.T) {
	reg := registryWith(t, "APM_TRACING", &fakeSub{})
	s := New()

	content := []byte(`not json at all`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	u := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build()

	err := s.Apply(u, reg)
	var perr *tuf.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestApplyMissingTargetFileDropsConfig(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	// Config addressed to the client but the body never shipped and is not
	// cached: dropped this cycle, no error.
	path := "datadog/2/APM_TRACING/cfg1/config"
	u := newUpdate().target(path, "APM_TRACING", "cfg1", []byte(`{}`), 1).forClient(path).build()

	require.NoError(t, s.Apply(u, reg))
	assert.Empty(t, sub.appends)
	assert.Equal(t, 0, s.Len())
}

func TestApplyDuplicateTargetFileDropsConfig(t *testing.T) {
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New()

	content := []byte(`{}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	u := newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).
		file(path, content).file(path, content).build()

	require.NoError(t, s.Apply(u, reg))
	assert.Empty(t, sub.appends)
	assert.Equal(t, 0, s.Len())
}

func TestApplyRecordsJournal(t *testing.T) {
	rec := &captureRecorder{}
	sub := &fakeSub{}
	reg := registryWith(t, "APM_TRACING", sub)
	s := New(WithRecorder(rec))

	content := []byte(`{"x":1}`)
	path := "datadog/2/APM_TRACING/cfg1/config"
	require.NoError(t, s.Apply(newUpdate().target(path, "APM_TRACING", "cfg1", content, 1).forClient(path).file(path, content).build(), reg))
	require.NoError(t, s.Apply(newUpdate().build(), reg))

	require.Len(t, rec.records, 2)
	assert.Equal(t, "apply", rec.records[0].Action)
	assert.Equal(t, tuf.ApplyStateAcknowledged, rec.records[0].ApplyState)
	assert.Equal(t, "remove", rec.records[1].Action)
	assert.Equal(t, "cfg1", rec.records[1].ConfigID)
}

type captureRecorder struct {
	records []ApplyRecord
}

func (c *captureRecorder) Record(recs []ApplyRecord) error {
	c.records = append(c.records, recs...)
	return nil
}

package product

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcagent/internal/tuf"
)

func meta(id string) tuf.ConfigMetadata {
	return tuf.ConfigMetadata{ID: id, Product: "TEST_PRODUCT", SHA256: "aa", Length: 2, TUFVersion: 1}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Names())
	assert.Nil(t, r.Get("TEST_PRODUCT"))

	a := NewPipeline("A_PRODUCT", func([]Update) {})
	b := NewPipeline("B_PRODUCT", func([]Update) {})
	r.Register("B_PRODUCT", b)
	r.Register("A_PRODUCT", a)

	assert.Equal(t, []string{"A_PRODUCT", "B_PRODUCT"}, r.Names())
	assert.Same(t, Subscriber(a), r.Get("A_PRODUCT"))

	// Registering nil unregisters.
	r.Register("A_PRODUCT", nil)
	assert.Nil(t, r.Get("A_PRODUCT"))
	assert.Equal(t, []string{"B_PRODUCT"}, r.Names())

	r.Unregister("B_PRODUCT")
	assert.Empty(t, r.Names())

	r.Register("C_PRODUCT", a)
	r.Reset()
	assert.Empty(t, r.Names())
}

func TestPipelinePublishBatches(t *testing.T) {
	batches := make(chan []Update, 4)
	p := NewPipeline("TEST_PRODUCT", func(batch []Update) {
		batches <- batch
	})
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Append([]byte(`{"a":1}`), "path/1", meta("c1")))
	require.NoError(t, p.Append(nil, "path/2", meta("c2")))
	assert.Equal(t, 2, p.Pending())

	p.Publish()
	assert.Equal(t, 0, p.Pending())

	select {
	case batch := <-batches:
		require.Len(t, batch, 2)
		assert.Equal(t, []byte(`{"a":1}`), batch[0].Content)
		assert.Equal(t, "path/1", batch[0].Path)
		assert.Nil(t, batch[1].Content, "removal keeps nil content")
		assert.Equal(t, "c2", batch[1].Metadata.ID)
	case <-time.After(time.Second):
		t.Fatal("batch was not delivered")
	}
}

func TestPipelinePublishEmptyIsNoop(t *testing.T) {
	calls := make(chan []Update, 1)
	p := NewPipeline("TEST_PRODUCT", func(batch []Update) { calls <- batch })
	p.Start()
	defer p.Stop()

	p.Publish()

	select {
	case <-calls:
		t.Fatal("callback fired for an empty cycle")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipelineStartIdempotent(t *testing.T) {
	delivered := make(chan []Update, 4)
	p := NewPipeline("TEST_PRODUCT", func(batch []Update) { delivered <- batch })

	// Appends before Start accumulate and survive activation.
	require.NoError(t, p.Append([]byte(`{}`), "path/1", meta("c1")))
	p.Start()
	p.Start()
	defer p.Stop()
	assert.Equal(t, 1, p.Pending())

	p.Publish()
	select {
	case batch := <-delivered:
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("batch was not delivered")
	}

	// Only one delivery goroutine should exist.
	p.Publish()
	select {
	case <-delivered:
		t.Fatal("duplicate delivery")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipelineStopThenRestart(t *testing.T) {
	delivered := make(chan []Update, 4)
	p := NewPipeline("TEST_PRODUCT", func(batch []Update) { delivered <- batch })

	p.Start()
	p.Stop()
	p.Start()
	defer p.Stop()

	require.NoError(t, p.Append([]byte(`{}`), "path/1", meta("c1")))
	p.Publish()

	// Exactly one delivery: the first activation's goroutine observed the
	// Stop and exited instead of lingering to double-drain the channel.
	select {
	case batch := <-delivered:
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("batch was not delivered after restart")
	}
	select {
	case <-delivered:
		t.Fatal("duplicate delivery after restart")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchemaGate(t *testing.T) {
	schema, err := CompileSchema("test.json", []byte(`{
		"type": "object",
		"required": ["rate"],
		"properties": {"rate": {"type": "number", "minimum": 0, "maximum": 1}}
	}`))
	require.NoError(t, err)

	inner := NewPipeline("TEST_PRODUCT", func([]Update) {})
	gated := WithSchema(inner, schema)

	assert.NoError(t, gated.Append([]byte(`{"rate": 0.5}`), "path/1", meta("c1")))
	assert.Equal(t, 1, inner.Pending())

	err = gated.Append([]byte(`{"rate": 2}`), "path/2", meta("c2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
	assert.Equal(t, 1, inner.Pending(), "rejected config must not reach the product")

	err = gated.Append([]byte(`not json`), "path/3", meta("c3"))
	require.Error(t, err)

	// Removals pass through unchecked.
	assert.NoError(t, gated.Append(nil, "path/1", meta("c1")))
	assert.Equal(t, 2, inner.Pending())
}

package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEndpoint struct {
	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	closeWhy  string
	failClose bool
}

func (f *fakeEndpoint) Send(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeEndpoint) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeWhy = reason
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *MemoryPubSub, context.CancelFunc) {
	t.Helper()
	ps := NewMemoryPubSub()
	state := NewMemoryStateStore()
	c := NewCoordinator(ps, state, "CHANNEL:test-mediator")
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	return c, ps, cancel
}

func TestRegisterThenStartMarksActive(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ep := &fakeEndpoint{}
	require.NoError(t, c.Register("alice-hash", ep))
	assert.False(t, c.IsActive("alice-hash"))

	require.NoError(t, c.SetActive("alice-hash", true))
	assert.True(t, c.IsActive("alice-hash"))

	require.NoError(t, c.SetActive("alice-hash", false))
	assert.False(t, c.IsActive("alice-hash"))
}

func TestRegisterReplaceClosesPreviousEndpoint(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	first := &fakeEndpoint{}
	second := &fakeEndpoint{}

	require.NoError(t, c.Register("alice-hash", first))
	require.NoError(t, c.Register("alice-hash", second))

	first.mu.Lock()
	defer first.mu.Unlock()
	assert.True(t, first.closed)
	assert.Equal(t, "duplicate-channel", first.closeWhy)
}

func TestDeregisterClearsRegistration(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ep := &fakeEndpoint{}
	require.NoError(t, c.Register("alice-hash", ep))
	require.NoError(t, c.SetActive("alice-hash", true))
	require.NoError(t, c.Deregister("alice-hash"))
	assert.False(t, c.IsActive("alice-hash"))
}

func TestPubSubDeliversToActiveRegistration(t *testing.T) {
	c, ps, _ := newTestCoordinator(t)
	ep := &fakeEndpoint{}
	require.NoError(t, c.Register("alice-hash", ep))
	require.NoError(t, c.SetActive("alice-hash", true))

	require.NoError(t, ps.Publish(context.Background(), "CHANNEL:test-mediator", PubSubMessage{
		DIDHash: "alice-hash",
		Message: []byte("hello"),
	}))

	require.Eventually(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return len(ep.sent) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPubSubDropsWhenInactiveWithoutForce(t *testing.T) {
	c, ps, _ := newTestCoordinator(t)
	ep := &fakeEndpoint{}
	require.NoError(t, c.Register("alice-hash", ep))
	// never started: active stays false

	require.NoError(t, ps.Publish(context.Background(), "CHANNEL:test-mediator", PubSubMessage{
		DIDHash: "alice-hash",
		Message: []byte("hello"),
	}))

	// Give the delivery loop a moment to (not) act, then confirm nothing arrived.
	time.Sleep(50 * time.Millisecond)
	ep.mu.Lock()
	defer ep.mu.Unlock()
	assert.Empty(t, ep.sent)
}

func TestPubSubForceDeliveryIgnoresInactive(t *testing.T) {
	c, ps, _ := newTestCoordinator(t)
	ep := &fakeEndpoint{}
	require.NoError(t, c.Register("alice-hash", ep))

	require.NoError(t, ps.Publish(context.Background(), "CHANNEL:test-mediator", PubSubMessage{
		DIDHash:       "alice-hash",
		Message:       []byte("urgent"),
		ForceDelivery: true,
	}))

	require.Eventually(t, func() bool {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		return len(ep.sent) == 1
	}, time.Second, 10*time.Millisecond)
}

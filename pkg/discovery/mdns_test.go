package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistration struct {
	mu       sync.Mutex
	text     []string
	shutdown bool
}

func (r *fakeRegistration) SetText(text []string) {
	r.mu.Lock()
	r.text = text
	r.mu.Unlock()
}

func (r *fakeRegistration) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

type registerCall struct {
	instance, service, domain string
	port                      int
	text                      []string
	reg                       *fakeRegistration
}

func newTestAdvertiser(t *testing.T) (*MDNSAdvertiser, *[]registerCall) {
	t.Helper()
	adv, err := NewMDNSAdvertiser(DefaultAdvertiserConfig())
	require.NoError(t, err)

	var calls []registerCall
	adv.register = func(instance, service, domain string, port int, text []string, _ []net.Interface, _ ...zeroconf.ServerOption) (registration, error) {
		reg := &fakeRegistration{text: text}
		calls = append(calls, registerCall{instance, service, domain, port, text, reg})
		return reg, nil
	}
	return adv, &calls
}

func TestAdvertise(t *testing.T) {
	adv, calls := newTestAdvertiser(t)
	defer adv.Stop()

	err := adv.Advertise(context.Background(), &ServerInfo{Instance: "lab", WebSocket: true})
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "lab", c.instance)
	assert.Equal(t, ServiceType, c.service)
	assert.Equal(t, Domain, c.domain)
	assert.Equal(t, DefaultPort, c.port)
	assert.Equal(t, []string{"v=1", "ws=1"}, c.text)
}

func TestAdvertiseReplaces(t *testing.T) {
	adv, calls := newTestAdvertiser(t)

	require.NoError(t, adv.Advertise(context.Background(), &ServerInfo{Instance: "a", Port: 9000}))
	require.NoError(t, adv.Advertise(context.Background(), &ServerInfo{Instance: "b", Port: 9001}))

	require.Len(t, *calls, 2)
	assert.True(t, (*calls)[0].reg.shutdown, "first advertisement should be withdrawn")
	assert.False(t, (*calls)[1].reg.shutdown)
	assert.Equal(t, 9001, (*calls)[1].port)

	require.NoError(t, adv.Stop())
	assert.True(t, (*calls)[1].reg.shutdown)
}

func TestAdvertiseUpdate(t *testing.T) {
	adv, calls := newTestAdvertiser(t)

	assert.ErrorIs(t, adv.Update(&ServerInfo{TLS: true}), ErrNotAdvertising)

	require.NoError(t, adv.Advertise(context.Background(), &ServerInfo{Instance: "lab"}))
	require.NoError(t, adv.Update(&ServerInfo{Instance: "lab", TLS: true}))
	assert.Equal(t, []string{"tls=1", "v=1"}, (*calls)[0].reg.text)
}

func TestAdvertiseErrors(t *testing.T) {
	adv, calls := newTestAdvertiser(t)

	err := adv.Advertise(context.Background(), &ServerInfo{})
	assert.Error(t, err)
	assert.Empty(t, *calls)

	adv.register = func(string, string, string, int, []string, []net.Interface, ...zeroconf.ServerOption) (registration, error) {
		return nil, errors.New("no multicast")
	}
	err = adv.Advertise(context.Background(), &ServerInfo{Instance: "lab"})
	assert.ErrorContains(t, err, "no multicast")
}

// scriptedBrowse feeds entries in order, then waits for ctx.
func scriptedBrowse(steps ...func(entries, removed chan<- *ServiceEntry)) browseFunc {
	return func(ctx context.Context, entries, removed chan<- *ServiceEntry) error {
		for _, step := range steps {
			step(entries, removed)
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func added(e *ServiceEntry) func(entries, removed chan<- *ServiceEntry) {
	return func(entries, _ chan<- *ServiceEntry) { entries <- e }
}

func gone(e *ServiceEntry) func(entries, removed chan<- *ServiceEntry) {
	return func(_, removed chan<- *ServiceEntry) { removed <- e }
}

func entry(instance string, addrs ...string) *ServiceEntry {
	return &ServiceEntry{
		Instance: instance,
		Host:     instance + ".local.",
		Port:     7470,
		Text:     []string{"v=1"},
		Addrs:    addrs,
	}
}

func newTestBrowser(t *testing.T, browse browseFunc) *MDNSBrowser {
	t.Helper()
	b, err := NewMDNSBrowser(BrowserConfig{BrowseTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	b.browse = browse
	t.Cleanup(b.Stop)
	return b
}

func TestBrowseAggregates(t *testing.T) {
	bad := entry("broken", "10.0.0.9")
	bad.Text = nil

	b := newTestBrowser(t, scriptedBrowse(
		added(entry("lab", "10.0.0.1")),
		added(entry("lab", "fe80::1")),
		added(bad),
		added(entry("edge", "10.0.0.2")),
		gone(entry("lab", "10.0.0.1", "fe80::1")),
		added(entry("lab", "10.0.0.3")),
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results, err := b.Browse(ctx)
	require.NoError(t, err)

	var names []string
	var first *ServerService
	for len(names) < 3 {
		select {
		case svc := <-results:
			if first == nil {
				first = svc
			}
			names = append(names, svc.InstanceName)
		case <-time.After(time.Second):
			t.Fatalf("only saw %v", names)
		}
	}

	// lab is reported again after it vanished from every interface.
	assert.Equal(t, []string{"lab", "edge", "lab"}, names)
	assert.Equal(t, []string{"10.0.0.1"}, first.Addresses)

	cancel()
	for range results {
	}
}

func TestFind(t *testing.T) {
	b := newTestBrowser(t, scriptedBrowse(
		added(entry("edge", "10.0.0.2")),
		added(entry("lab", "10.0.0.1")),
	))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	svc, err := b.Find(ctx, "lab")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7470", svc.Address())

	svc, err = b.Find(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "edge", svc.InstanceName)
}

func TestFindTimeout(t *testing.T) {
	b := newTestBrowser(t, scriptedBrowse())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Find(ctx, "lab")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFindAll(t *testing.T) {
	b := newTestBrowser(t, scriptedBrowse(
		added(entry("a", "10.0.0.1")),
		added(entry("b", "10.0.0.2")),
	))

	found, err := b.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].InstanceName)
	assert.Equal(t, "b", found[1].InstanceName)
}

func TestFindAllEmpty(t *testing.T) {
	b := newTestBrowser(t, scriptedBrowse())

	found, err := b.FindAll(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, found)
}

func TestBrowseAfterStop(t *testing.T) {
	b := newTestBrowser(t, scriptedBrowse())
	b.Stop()

	_, err := b.Browse(context.Background())
	assert.Error(t, err)
}

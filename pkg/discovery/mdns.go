package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// registration is the part of *zeroconf.Server the advertiser uses.
type registration interface {
	SetText(text []string)
	Shutdown()
}

// registerFunc matches zeroconf.Register.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface, opts ...zeroconf.ServerOption) (registration, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface, opts ...zeroconf.ServerOption) (registration, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces, opts...)
}

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config   AdvertiserConfig
	register registerFunc

	mu     sync.Mutex
	server registration
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	return &MDNSAdvertiser{
		config:   config,
		register: zeroconfRegister,
	}, nil
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *MDNSAdvertiser) getInterfaces() []net.Interface {
	return selectInterfaces(a.config.Interface)
}

// Advertise starts advertising a relay server.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *ServerInfo) error {
	if err := ValidateInstanceName(info.Instance); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Stop existing if any
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := a.register(
		info.Instance,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeServerTXT(info)),
		a.getInterfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register relay service: %w", err)
	}

	a.server = server
	return nil
}

// Update updates the TXT records of the running advertisement.
func (a *MDNSAdvertiser) Update(info *ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(TXTRecordsToStrings(EncodeServerTXT(info)))
	return nil
}

// Stop withdraws the advertisement.
func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}

// browseFunc streams raw answers until ctx ends.
type browseFunc func(ctx context.Context, entries, removed chan<- *ServiceEntry) error

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	browse browseFunc

	mu      sync.Mutex
	stopped bool
	cancels []context.CancelFunc
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) (*MDNSBrowser, error) {
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	b := &MDNSBrowser{config: config}
	b.browse = b.browseZeroconf
	return b, nil
}

// Browse searches for relay servers. Services are aggregated by instance
// name; addresses from multiple interfaces are combined into one entry.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *ServerService, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser stopped")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	out := make(chan *ServerService)
	entries := make(chan *ServiceEntry)
	removed := make(chan *ServiceEntry)

	go func() {
		defer close(out)
		aggregate(ctx, entries, removed, out)
	}()

	go func() {
		_ = b.browse(ctx, entries, removed)
	}()

	return out, nil
}

// Find returns the first server named instance, or any server if
// instance is empty.
func (b *MDNSBrowser) Find(ctx context.Context, instance string) (*ServerService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, ErrNotFound
			}
			if instance == "" || svc.InstanceName == instance {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// FindAll collects servers until ctx ends or BrowseTimeout passes.
// Running out of time is not an error.
func (b *MDNSBrowser) FindAll(ctx context.Context) ([]*ServerService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	found := []*ServerService{}
	for svc := range results {
		found = append(found, svc)
	}
	return found, nil
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

// browseZeroconf runs a zeroconf browse and converts its entries.
func (b *MDNSBrowser) browseZeroconf(ctx context.Context, entries, removed chan<- *ServiceEntry) error {
	zentries := make(chan *zeroconf.ServiceEntry)
	zremoved := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(entries)
		for {
			select {
			case e, ok := <-zentries:
				if !ok {
					return
				}
				if !send(ctx, entries, toServiceEntry(e)) {
					return
				}
			case e, ok := <-zremoved:
				if !ok {
					zremoved = nil
					continue
				}
				if !send(ctx, removed, toServiceEntry(e)) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return zeroconf.Browse(ctx, ServiceType, Domain, zentries, zremoved, b.browserOptions()...)
}

func send(ctx context.Context, ch chan<- *ServiceEntry, e *ServiceEntry) bool {
	select {
	case ch <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func toServiceEntry(e *zeroconf.ServiceEntry) *ServiceEntry {
	return &ServiceEntry{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     uint16(e.Port),
		Text:     e.Text,
		Addrs:    ipStrings(e.AddrIPv4, e.AddrIPv6),
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if ifaces := selectInterfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return opts
}

// selectInterfaces resolves a configured interface name. Nil means all.
func selectInterfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Ensure MDNSAdvertiser implements Advertiser interface.
var _ Advertiser = (*MDNSAdvertiser)(nil)

// Ensure MDNSBrowser implements Browser interface.
var _ Browser = (*MDNSBrowser)(nil)

package discovery

import (
	"context"
	"net"
	"time"
)

// Browser finds relay servers on the local network.
type Browser interface {
	// Browse streams servers as they appear. A server that disappears
	// from every interface and comes back is reported again. The channel
	// is closed when ctx ends.
	Browse(ctx context.Context) (<-chan *ServerService, error)

	// Find returns the first server with the given instance name, or the
	// first server at all when instance is empty.
	Find(ctx context.Context, instance string) (*ServerService, error)

	// FindAll collects every server seen until ctx ends or the browse
	// timeout passes.
	FindAll(ctx context.Context) ([]*ServerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindAll when ctx has no deadline.
	// Default: 3 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: DefaultBrowseTimeout,
	}
}

// ServiceEntry is one raw mDNS answer, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToServerService converts a ServiceEntry to a ServerService.
func (e *ServiceEntry) ToServerService() (*ServerService, error) {
	svc := &ServerService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
	}
	if err := DecodeServerTXT(StringsToTXTRecords(e.Text), svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// aggregate folds raw entries into per-instance services and emits a copy
// of each instance when it is first seen. It returns when entries is
// closed or ctx ends.
func aggregate(ctx context.Context, entries, removed <-chan *ServiceEntry, out chan<- *ServerService) {
	services := make(map[string]*ServerService)

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc, err := entry.ToServerService()
			if err != nil {
				continue
			}

			if existing, found := services[svc.InstanceName]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.InstanceName] = svc
			emitted := *svc
			emitted.Addresses = append([]string(nil), svc.Addresses...)
			select {
			case out <- &emitted:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry.Addrs)
				if len(existing.Addresses) == 0 {
					delete(services, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses filters the given addresses out of the list.
func removeAddresses(addresses, drop []string) []string {
	toRemove := make(map[string]bool, len(drop))
	for _, addr := range drop {
		toRemove[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// ipStrings formats IPs for ServiceEntry.Addrs.
func ipStrings(groups ...[]net.IP) []string {
	var addrs []string
	for _, ips := range groups {
		for _, ip := range ips {
			addrs = append(addrs, ip.String())
		}
	}
	return addrs
}

// Package discovery finds relay servers on the local network with
// mDNS/DNS-SD.
//
// Servers advertise the service type _relay._tcp. The instance name is
// chosen by the operator; the TXT record describes how to connect:
//
//	v=1      protocol version (required)
//	ws=1     the listener speaks WebSocket instead of raw TCP
//	tls=1    the listener requires TLS
//
// A browser aggregates answers per instance name, merging the addresses
// seen on different interfaces into one ServerService.
package discovery

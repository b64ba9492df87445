// ABOUTME: mDNS sweeper for Google Cast receivers
// ABOUTME: Browses _googlecast._tcp and turns service entries into receiver descriptors
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

const (
	// CastService is the DNS-SD service type advertised by Cast receivers
	CastService = "_googlecast._tcp"
	castDomain  = "local"
)

// MDNSConfig holds mDNS sweeper configuration
type MDNSConfig struct {
	Service string
	Domain  string
	Logger  *log.Logger
}

// MDNSSweeper discovers receivers with a one-shot mDNS query per sweep
type MDNSSweeper struct {
	config MDNSConfig
	query  func(ctx context.Context, params *mdns.QueryParam) error
}

// NewMDNSSweeper creates an mDNS sweeper
func NewMDNSSweeper(config MDNSConfig) *MDNSSweeper {
	if config.Service == "" {
		config.Service = CastService
	}
	if config.Domain == "" {
		config.Domain = castDomain
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	return &MDNSSweeper{
		config: config,
		query:  mdns.QueryContext,
	}
}

// Sweep queries the network for timeout and returns every receiver that answered
func (s *MDNSSweeper) Sweep(ctx context.Context, timeout time.Duration) ([]cast.Receiver, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	collected := make(chan []cast.Receiver, 1)

	go func() {
		var found []cast.Receiver
		seen := make(map[string]bool)
		for entry := range entries {
			rc, ok := receiverFromEntry(entry)
			if !ok {
				s.config.Logger.Debug("Skipping incomplete mDNS entry", "name", entry.Name)
				continue
			}
			if seen[rc.ID] {
				continue
			}
			seen[rc.ID] = true
			s.config.Logger.Debug("Discovered receiver",
				"name", rc.DisplayName, "model", rc.ModelName, "host", rc.Host, "port", rc.Port)
			found = append(found, rc)
		}
		collected <- found
	}()

	params := &mdns.QueryParam{
		Service:     s.config.Service,
		Domain:      s.config.Domain,
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	}

	err := s.query(ctx, params)
	close(entries)
	found := <-collected

	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

// receiverFromEntry maps the TXT record of a Cast service entry. Entries with no
// id or no IPv4 address cannot be connected to and are rejected.
func receiverFromEntry(entry *mdns.ServiceEntry) (cast.Receiver, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return cast.Receiver{}, false
	}

	txt := parseTXT(entry.InfoFields)
	id := cast.NormalizeID(txt["id"])
	if id == "" {
		return cast.Receiver{}, false
	}

	name := txt["fn"]
	if name == "" {
		name = instanceName(entry.Name)
	}

	port := entry.Port
	if port == 0 {
		port = cast.DefaultPort
	}

	return cast.Receiver{
		ID:          id,
		DisplayName: name,
		ModelName:   txt["md"],
		Host:        entry.AddrV4.String(),
		Port:        port,
	}, true
}

func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		txt[strings.ToLower(key)] = value
	}
	return txt
}

// instanceName strips the service suffix from "Living-Room._googlecast._tcp.local."
func instanceName(full string) string {
	if i := strings.Index(full, "."+CastService); i > 0 {
		return full[:i]
	}
	return strings.TrimSuffix(full, ".")
}

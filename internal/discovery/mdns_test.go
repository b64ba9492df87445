// ABOUTME: Tests for the mDNS sweeper
// ABOUTME: Feeds fake service entries and checks descriptor mapping
package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeQuery(entries ...*mdns.ServiceEntry) func(context.Context, *mdns.QueryParam) error {
	return func(_ context.Context, params *mdns.QueryParam) error {
		for _, e := range entries {
			params.Entries <- e
		}
		return nil
	}
}

func TestNewMDNSSweeperDefaults(t *testing.T) {
	s := NewMDNSSweeper(MDNSConfig{})

	assert.Equal(t, CastService, s.config.Service)
	assert.Equal(t, "local", s.config.Domain)
	assert.NotNil(t, s.config.Logger)
	assert.NotNil(t, s.query)
}

func TestSweepMapsEntries(t *testing.T) {
	s := NewMDNSSweeper(MDNSConfig{})
	s.query = fakeQuery(&mdns.ServiceEntry{
		Name:       "Chromecast-abc._googlecast._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.50"),
		Port:       8009,
		InfoFields: []string{"id=6a6f6e7e1f2a4b3c8d9e0f1a2b3c4d5e", "md=ChromecastX", "fn=Living Room", "ve=05"},
	})

	found, err := s.Sweep(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)

	rc := found[0]
	assert.Equal(t, "6a6f6e7e-1f2a-4b3c-8d9e-0f1a2b3c4d5e", rc.ID)
	assert.Equal(t, "Living Room", rc.DisplayName)
	assert.Equal(t, "ChromecastX", rc.ModelName)
	assert.Equal(t, "192.168.1.50", rc.Host)
	assert.Equal(t, 8009, rc.Port)
}

func TestSweepSkipsIncompleteAndDuplicateEntries(t *testing.T) {
	s := NewMDNSSweeper(MDNSConfig{})
	s.query = fakeQuery(
		&mdns.ServiceEntry{Name: "NoAddr._googlecast._tcp.local.", InfoFields: []string{"id=aa"}},
		&mdns.ServiceEntry{Name: "NoID._googlecast._tcp.local.", AddrV4: net.ParseIP("10.0.0.2")},
		&mdns.ServiceEntry{Name: "Kitchen._googlecast._tcp.local.", AddrV4: net.ParseIP("10.0.0.3"), InfoFields: []string{"id=bb"}},
		&mdns.ServiceEntry{Name: "Kitchen._googlecast._tcp.local.", AddrV4: net.ParseIP("10.0.0.3"), InfoFields: []string{"id=bb"}},
	)

	found, err := s.Sweep(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, found, 1)

	// Falls back to the instance name and the default port
	assert.Equal(t, "Kitchen", found[0].DisplayName)
	assert.Equal(t, 8009, found[0].Port)
}

func TestSweepPassesQueryParams(t *testing.T) {
	var got *mdns.QueryParam
	s := NewMDNSSweeper(MDNSConfig{})
	s.query = func(_ context.Context, params *mdns.QueryParam) error {
		got = params
		return nil
	}

	_, err := s.Sweep(context.Background(), 3*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "_googlecast._tcp", got.Service)
	assert.Equal(t, "local", got.Domain)
	assert.Equal(t, 3*time.Second, got.Timeout)
}

func TestSweepQueryError(t *testing.T) {
	s := NewMDNSSweeper(MDNSConfig{})
	s.query = func(context.Context, *mdns.QueryParam) error {
		return errors.New("no multicast interface")
	}

	found, err := s.Sweep(context.Background(), time.Second)
	assert.Error(t, err)
	assert.Nil(t, found)
}

func TestParseTXT(t *testing.T) {
	txt := parseTXT([]string{"id=1", "FN=Den", "broken", "rs="})

	assert.Equal(t, "1", txt["id"])
	assert.Equal(t, "Den", txt["fn"])
	assert.Equal(t, "", txt["rs"])
	_, ok := txt["broken"]
	assert.False(t, ok)
}

// ABOUTME: Probe tool for Chromecast discovery and playback
// ABOUTME: Lists receivers found by one mDNS sweep and optionally casts a URL
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Resonate-Protocol/cast-relay/internal/cast"
	"github.com/Resonate-Protocol/cast-relay/internal/castv2"
	"github.com/Resonate-Protocol/cast-relay/internal/discovery"
	"github.com/charmbracelet/log"
)

var (
	timeout     = flag.Duration("timeout", 5*time.Second, "mDNS sweep duration")
	device      = flag.String("device", "", "Receiver ID or name to cast to")
	mediaURL    = flag.String("url", "", "Media URL to cast (requires -device)")
	contentType = flag.String("type", "audio/mpeg", "Content type of -url")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx := context.Background()
	sweeper := discovery.NewMDNSSweeper(discovery.MDNSConfig{Logger: logger.WithPrefix("mdns")})

	fmt.Printf("Browsing for Chromecasts for %s...\n", *timeout)
	receivers, err := sweeper.Sweep(ctx, *timeout)
	if err != nil {
		logger.Fatal("Discovery failed", "err", err)
	}

	if len(receivers) == 0 {
		fmt.Println("No receivers found")
	}
	for _, rc := range receivers {
		fmt.Printf("%-36s  %-24s  %-20s  %s:%d\n", rc.ID, rc.DisplayName, rc.ModelName, rc.Host, rc.Port)
	}

	if *mediaURL == "" {
		return
	}

	target, ok := pick(receivers, *device)
	if !ok {
		logger.Fatal("Receiver not found", "device", *device)
	}

	dialer := castv2.NewDialer(castv2.Options{Logger: logger.WithPrefix("castv2")})
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := dialer.Dial(dialCtx, target)
	cancel()
	if err != nil {
		logger.Fatal("Connection failed", "device", target.DisplayName, "err", err)
	}
	defer conn.Close()

	fmt.Printf("Casting %s to %s...\n", *mediaURL, target.DisplayName)
	if err := conn.PlayMedia(ctx, *mediaURL, *contentType); err != nil {
		logger.Fatal("Load failed", "err", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		state, err := conn.QueryStatus(ctx)
		if err != nil {
			logger.Fatal("Status query failed", "err", err)
		}
		if state.Active() {
			fmt.Printf("Receiver reports %s\n", state)
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	logger.Fatal("Playback did not start")
}

// pick matches id against receiver IDs first, then names
func pick(receivers []cast.Receiver, id string) (cast.Receiver, bool) {
	if id == "" && len(receivers) == 1 {
		return receivers[0], true
	}
	norm := cast.NormalizeID(id)
	for _, rc := range receivers {
		if rc.ID == norm {
			return rc, true
		}
	}
	for _, rc := range receivers {
		if strings.EqualFold(rc.DisplayName, id) {
			return rc, true
		}
	}
	return cast.Receiver{}, false
}

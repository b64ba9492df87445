// ABOUTME: Build identity reported by the relay
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

// Version is the release version, "dev" for local builds
var Version = "dev"

const (
	Product      = "Cast Relay"
	Manufacturer = "Resonate"
)

// String formats the identity for logs and the version command
func String() string {
	return Product + " " + Version
}

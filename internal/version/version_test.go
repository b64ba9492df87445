// ABOUTME: Tests for build identity
// ABOUTME: Ensures version information is usable in logs and responses
package version

import (
	"strings"
	"testing"
)

func TestIdentityDefined(t *testing.T) {
	for name, value := range map[string]string{
		"Version":      Version,
		"Product":      Product,
		"Manufacturer": Manufacturer,
	} {
		if value == "" {
			t.Errorf("%s should not be empty", name)
		}
		if len(value) > 100 {
			t.Errorf("%s is unreasonably long", name)
		}
	}
}

func TestString(t *testing.T) {
	s := String()
	if !strings.HasPrefix(s, Product) || !strings.HasSuffix(s, Version) {
		t.Errorf("String() = %q, want product and version", s)
	}
}

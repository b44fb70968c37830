// Package unitpath converts between systemd service names and the D-Bus
// object paths systemd exposes units under.
package unitpath

import (
	"errors"
	"fmt"
	"strings"
)

// Prefix is the object-path prefix systemd uses for unit objects.
const Prefix = "/org/freedesktop/systemd1/unit/"

// ErrNotASCII is returned for service names containing non-ASCII bytes.
// The bus-path encoding is only defined over ASCII input.
var ErrNotASCII = errors.New("service name contains non-ASCII characters")

// EncodeServiceName converts a service name (without the ".service" suffix)
// into the escaped path segment systemd uses for the unit's object path.
// D-Bus restricts path segments to alphanumerics and underscore, so every
// other byte is encoded as an underscore followed by its two-digit lowercase
// hex value:
//
//	cups → cups_2eservice
//	a-b  → a_2db_2eservice
func EncodeServiceName(service string) (string, error) {
	if !isASCII(service) {
		return "", fmt.Errorf("service %q: %w", service, ErrNotASCII)
	}

	unit := service + ".service"
	var b strings.Builder
	b.Grow(len(unit))
	for i := 0; i < len(unit); i++ {
		c := unit[i]
		if isAlphanumeric(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String(), nil
}

// ObjectPath returns the full unit object path for a service name.
func ObjectPath(service string) (string, error) {
	segment, err := EncodeServiceName(service)
	if err != nil {
		return "", err
	}
	return Prefix + segment, nil
}

// Decode extracts the unit name from a systemd unit object path.
//
// Example: /org/freedesktop/systemd1/unit/ssh_2eservice → ssh.service
//
// Returns "" for paths outside the unit prefix.
func Decode(path string) string {
	if !strings.HasPrefix(path, Prefix) {
		return ""
	}
	return unescape(path[len(Prefix):])
}

// unescape reverses the path encoding. Sequences that do not form a valid
// two-digit hex escape pass through unchanged.
func unescape(s string) string {
	var result strings.Builder
	result.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '_' && i+2 < len(s) {
			if decoded, ok := decodeHex(s[i+1 : i+3]); ok {
				result.WriteByte(decoded)
				i += 2
				continue
			}
		}
		result.WriteByte(s[i])
	}

	return result.String()
}

// decodeHex decodes a two-character hex string to a byte.
func decodeHex(hex string) (byte, bool) {
	if len(hex) != 2 {
		return 0, false
	}

	high, ok1 := hexValue(hex[0])
	low, ok2 := hexValue(hex[1])
	if !ok1 || !ok2 {
		return 0, false
	}

	return high<<4 | low, true
}

// hexValue returns the numeric value of a hex digit.
func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

package redis

import "strings"

const keyNamespace = "fl"

// Key prefixes under the fl: namespace.
const (
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
	locationPrefix    = "driver_location"
	channelPrefix     = "driver_location_updates"
)

// key joins the non-blank parts under the namespace.
func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

// IdempotencyKey scopes a client-supplied Idempotency-Key, e.g.
// fl:idempotency:<caller>:<key>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key(idempotencyPrefix, scope, id)
}

func (c *Client) LockKey(name string) string { return key(lockPrefix, name) }

func (c *Client) DriverLocationKey(driverID string) string {
	return key(locationPrefix, driverID)
}

func (c *Client) DriverLocationChannel(driverID string) string {
	return key(channelPrefix, driverID)
}

package realm

import "time"

// User is a realm participant. Users are created on first successful
// authentication and survive disconnects, so a client can reconnect and
// resume the same identity.
type User struct {
	ID                int32
	Name              string
	Connected         bool
	LastTransactionAt time.Time
}

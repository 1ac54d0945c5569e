package session

import (
	"fmt"
	"strings"
	"time"
)

// Credential is a "principal:secret" pair. A session is keyed by one; device
// operations take the device's id and token in the same shape.
type Credential struct {
	Principal string
	Secret    string
}

// ParseCredential splits key on the first ':'. A key without a separator
// yields an empty secret.
func ParseCredential(key string) Credential {
	principal, secret, _ := strings.Cut(key, ":")
	return Credential{Principal: principal, Secret: secret}
}

// String returns the credential in "principal:secret" form.
func (c Credential) String() string {
	return c.Principal + ":" + c.Secret
}

// Valid reports whether both halves are present.
func (c Credential) Valid() bool {
	return c.Principal != "" && c.Secret != ""
}

// Identity is what the transport presents to the broker.
type Identity struct {
	ClientID string
	Username string
	Password string
}

// IdentityFor derives the broker identity for c. The client id combines the
// principal with the process start time, so reconnects within one process
// reuse it and the broker does not see overlapping sessions.
func IdentityFor(c Credential, started time.Time) Identity {
	return Identity{
		ClientID: fmt.Sprintf("%s-%d", c.Principal, started.UnixMilli()),
		Username: c.Principal,
		Password: c.Secret,
	}
}

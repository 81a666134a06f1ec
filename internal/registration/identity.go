// Package registration handles bringing a freshly started agent to a
// registered state with the management server: it watches for a
// pre-exchange opportunity to queue a "register" message once the
// configured account credentials are present, and reacts to the
// server's set-id/unknown-id/registration responses. It is grounded on
// internal/scheduler/scheduler.go's reactor-driven lifecycle hooks,
// generalized from periodic job dispatch to a one-shot
// registration handshake gated on accumulated state.
package registration

import (
	"github.com/oriys/courier/internal/kvstore"
)

// Identity holds this agent's server-assigned credentials (persisted)
// and its locally configured registration parameters (read-only here;
// owned by configuration), mirroring the original's Identity class.
type Identity struct {
	persist *kvstore.Scoped

	ComputerTitle        string
	AccountName          string
	RegistrationKey      string
	Tags                 string
	AccessGroup          string
}

// NewIdentity builds an Identity backed by store, scoped under
// "registration" the way persist.root_at("registration") does.
func NewIdentity(store *kvstore.Store, computerTitle, accountName, registrationKey, tags, accessGroup string) *Identity {
	return &Identity{
		persist:         store.RootAt("registration"),
		ComputerTitle:   computerTitle,
		AccountName:     accountName,
		RegistrationKey: registrationKey,
		Tags:            tags,
		AccessGroup:     accessGroup,
	}
}

// SecureID returns the server-issued secure ID, or "" if not registered.
func (id *Identity) SecureID() string {
	v := id.persist.GetTextPtr("secure-id")
	if v == nil {
		return ""
	}
	return *v
}

// SetSecureID persists the secure ID, or clears it when id is "".
func (id *Identity) SetSecureID(secureID string) error {
	if secureID == "" {
		return id.persist.SetTextPtr("secure-id", nil)
	}
	return id.persist.SetTextPtr("secure-id", &secureID)
}

// InsecureID returns the server-issued insecure ID, or "" if unset.
func (id *Identity) InsecureID() string {
	v := id.persist.GetTextPtr("insecure-id")
	if v == nil {
		return ""
	}
	return *v
}

// SetInsecureID persists the insecure ID, or clears it when id is "".
func (id *Identity) SetInsecureID(insecureID string) error {
	if insecureID == "" {
		return id.persist.SetTextPtr("insecure-id", nil)
	}
	return id.persist.SetTextPtr("insecure-id", &insecureID)
}

package registration

import (
	"context"
	"fmt"

	"github.com/oriys/courier/internal/bpickle"
	"github.com/oriys/courier/internal/exchange"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/messagestore"
	"github.com/oriys/courier/internal/reactor"
)

// Error is returned when registration fails, carrying the server's
// stated reason ("unknown-account", "max-pending-computers", ...).
type Error struct{ Reason string }

func (e *Error) Error() string { return fmt.Sprintf("registration: failed: %s", e.Reason) }

// Status is a read-only snapshot of registration state, the
// supplemented "registration_status" feature: a way to answer "are we
// registered, and if not, why not" without reaching into internals.
type Status struct {
	Registered  bool
	SecureID    string
	AccountName string
	LastFailure string
}

// Handler brings the agent to a registered state and reacts to
// server-driven identity changes, the Go shape of RegistrationHandler.
type Handler struct {
	identity     *Identity
	reactor      *reactor.Reactor
	exchange     *exchange.Exchange
	messageStore *messagestore.Store

	shouldRegister    bool
	jujuInfo          map[string]any
	lastFailureReason string
}

// New wires a Handler to reactor events and exchange message types,
// mirroring RegistrationHandler.__init__'s call_on/register_message calls.
func New(identity *Identity, r *reactor.Reactor, ex *exchange.Exchange, store *messagestore.Store) *Handler {
	h := &Handler{identity: identity, reactor: r, exchange: ex, messageStore: store}
	r.CallOn("pre-exchange", func(map[string]any) { h.handlePreExchange() })
	r.CallOn("exchange-done", func(map[string]any) { h.handleExchangeDone() })
	ex.RegisterMessage("set-id", h.handleSetID)
	ex.RegisterMessage("unknown-id", h.handleUnknownID)
	ex.RegisterMessage("registration", h.handleRegistration)
	return h
}

// ShouldRegister reports whether enough information is present to
// attempt registration: no secure ID yet, a computer title and account
// name configured, and the server currently accepting "register".
func (h *Handler) ShouldRegister() bool {
	if h.identity.SecureID() != "" {
		return false
	}
	return h.identity.ComputerTitle != "" && h.identity.AccountName != "" && h.messageStore.Accepts("register")
}

// Register clears any stale identity and triggers an exchange, the Go
// analog of RegistrationHandler.register. It blocks until the
// "registration-done" or "registration-failed" event fires and returns
// the outcome.
func (h *Handler) Register() error {
	if err := h.identity.SetSecureID(""); err != nil {
		return err
	}
	if err := h.identity.SetInsecureID(""); err != nil {
		return err
	}

	done := make(chan error, 1)
	var doneID, failedID reactor.CallID
	doneID = h.reactor.CallOn("registration-done", func(map[string]any) {
		done <- nil
		h.reactor.CancelCall(doneID)
		h.reactor.CancelCall(failedID)
	})
	failedID = h.reactor.CallOn("registration-failed", func(args map[string]any) {
		reason, _ := args["reason"].(string)
		done <- &Error{Reason: reason}
		h.reactor.CancelCall(doneID)
		h.reactor.CancelCall(failedID)
	})

	h.exchange.Run(context.Background())
	return <-done
}

// Status returns a read-only snapshot of the current registration state.
func (h *Handler) Status() Status {
	return Status{
		Registered:  h.identity.SecureID() != "",
		SecureID:    h.identity.SecureID(),
		AccountName: h.identity.AccountName,
		LastFailure: h.lastFailureReason,
	}
}

// SetJujuInfo records Juju environment metadata for inclusion in the
// next registration message, gated on server API >= 3.3. Courier has
// no Juju integration of its own; this exists so a host integration can
// feed it in, the same separation the original draws between
// RegistrationHandler and landscape.lib.juju.
func (h *Handler) SetJujuInfo(info map[string]any) { h.jujuInfo = info }

func (h *Handler) handleExchangeDone() {
	if h.ShouldRegister() && !h.shouldRegister {
		h.exchange.Run(context.Background())
	}
}

func (h *Handler) handlePreExchange() {
	should := h.ShouldRegister()
	h.shouldRegister = should
	if !should {
		return
	}

	accountName := h.identity.AccountName
	if accountName == "" {
		h.reactor.Fire("registration-failed", map[string]any{"reason": "unknown-account"})
		return
	}

	h.messageStore.DeleteAllMessages()

	fields := map[string]any{
		"hostname":               FQDN(),
		"account_name":           accountName,
		"computer_title":         h.identity.ComputerTitle,
		"registration_password":  h.identity.RegistrationKey,
		"container-info":         ContainerInfo(),
		"vm-info":                VMInfo(),
	}
	if h.identity.Tags != "" {
		fields["tags"] = h.identity.Tags
	}
	if h.identity.AccessGroup != "" {
		fields["access_group"] = h.identity.AccessGroup
	}

	serverAPI := h.messageStore.GetServerAPI()
	if h.jujuInfo != nil && isHigherThan33(serverAPI) {
		fields["juju-info"] = h.jujuInfo
	}

	logging.Op().Info("registration: queueing registration message", "account", accountName)
	message := messagestore.NewMessage("register", fields)
	if _, err := h.exchange.Send(context.Background(), message, false); err != nil {
		logging.Op().Error("registration: failed to queue registration message", "error", err)
	}
}

func isHigherThan33(serverAPI string) bool {
	return compareVersions(serverAPI, "3.3") >= 0
}

func compareVersions(a, b string) int {
	pa, pb := splitDotted(a), splitDotted(b)
	if pa[0] != pb[0] {
		if pa[0] > pb[0] {
			return 1
		}
		return -1
	}
	if pa[1] != pb[1] {
		if pa[1] > pb[1] {
			return 1
		}
		return -1
	}
	return 0
}

func splitDotted(v string) [2]int {
	var out [2]int
	var cur, idx int
	for _, r := range v {
		if r == '.' {
			out[idx] = cur
			cur = 0
			idx++
			if idx > 1 {
				return out
			}
			continue
		}
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
		}
	}
	out[idx] = cur
	return out
}

func (h *Handler) handleSetID(message messagestore.Message) {
	if secureID, ok := textField(message, "id"); ok {
		if h.identity.SecureID() != "" {
			logging.Op().Info("registration: overwriting secure-id")
		}
		h.identity.SetSecureID(secureID)
	}
	if insecureID, ok := textField(message, "insecure-id"); ok {
		h.identity.SetInsecureID(insecureID)
	}
	logging.Op().Info("registration: using new secure-id", "account", h.identity.AccountName)
	h.reactor.Fire("registration-done", nil)
	h.reactor.Fire("resynchronize-clients", nil)
}

func (h *Handler) handleRegistration(message messagestore.Message) {
	info, ok := textField(message, "info")
	if !ok {
		return
	}
	if info == "unknown-account" || info == "max-pending-computers" {
		h.lastFailureReason = info
		h.reactor.Fire("registration-failed", map[string]any{"reason": info})
	}
}

func (h *Handler) handleUnknownID(message messagestore.Message) {
	if clone, ok := textField(message, "clone-of"); ok {
		var title string
		if clone == h.identity.ComputerTitle {
			title = h.identity.ComputerTitle + " (clone)"
		} else {
			title = fmt.Sprintf("%s (clone of %s)", h.identity.ComputerTitle, clone)
		}
		logging.Op().Info("registration: client is clone of computer", "clone", clone)
		h.identity.ComputerTitle = title
	} else {
		logging.Op().Info("registration: client has unknown secure-id", "account", h.identity.AccountName)
	}
	h.identity.SetSecureID("")
	h.identity.SetInsecureID("")
}

func textField(m messagestore.Message, key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	switch v.Kind {
	case bpickle.KindText:
		return v.Text, true
	case bpickle.KindBytes:
		return string(v.Bytes), true
	default:
		return "", false
	}
}

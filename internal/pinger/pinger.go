// Package pinger implements a lightweight exchange-triggering probe: a
// small form-encoded HTTP POST that asks the server "are there messages
// waiting for this computer?" so a full exchange only has to run when
// there is actually something to fetch. It is grounded on
// internal/eventbus/webhook.go's outbound-HTTP-delivery shape, scaled
// down to a single GET-like POST and a boolean bpickle response instead
// of a JSON+HMAC payload.
package pinger

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oriys/courier/internal/bpickle"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/messagestore"
	"github.com/oriys/courier/internal/reactor"
)

// Identity supplies the insecure ID the pinger includes in its probe.
// A nil/empty InsecureID means registration hasn't completed yet, and
// Ping becomes a no-op, matching PingClient.ping's behavior.
type Identity interface {
	InsecureID() string
}

// Exchanger is the subset of the exchange engine the pinger can trigger.
type Exchanger interface {
	Schedule(urgent, force bool)
}

// Client performs the actual HTTP probe. The default implementation
// posts to url with a 60-second timeout; tests point it at an httptest
// server.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with a bounded timeout, since a hung ping
// server must never block the reactor's worker pool indefinitely.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 60 * time.Second}}
}

// Ping posts insecureID to target and reports whether the server
// indicated messages are waiting, decoding its bpickle response and
// comparing it to {"messages": true} exactly as the original does.
func (c *Client) Ping(ctx context.Context, target, insecureID string) (bool, error) {
	form := url.Values{"insecure_id": {insecureID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, err
	}

	decoded, err := bpickle.Decode(body)
	if err != nil {
		return false, err
	}
	if decoded.Kind != bpickle.KindDict {
		return false, nil
	}
	messages, ok := decoded.Get("messages")
	return ok && messages.Kind == bpickle.KindBool && messages.Bool, nil
}

// Pinger periodically probes a ping server and schedules an urgent
// exchange when it reports messages are waiting, the Go shape of the
// original's Pinger plugin.
type Pinger struct {
	reactor   *reactor.Reactor
	client    *Client
	identity  Identity
	exchanger Exchanger

	url      string
	interval time.Duration

	callID    reactor.CallID
	hasCallID bool
}

// New builds a Pinger targeting url, probing every interval.
func New(r *reactor.Reactor, client *Client, url string, interval time.Duration, identity Identity, exchanger Exchanger) *Pinger {
	p := &Pinger{
		reactor:   r,
		client:    client,
		identity:  identity,
		exchanger: exchanger,
		url:       url,
		interval:  interval,
	}
	r.CallOn("message", p.handleSetIntervals)
	return p
}

// URL returns the currently configured ping server URL.
func (p *Pinger) URL() string { return p.url }

// SetURL updates the ping server URL.
func (p *Pinger) SetURL(url string) { p.url = url }

// Interval returns the current ping interval.
func (p *Pinger) Interval() time.Duration { return p.interval }

// Start begins periodic pinging on the reactor.
func (p *Pinger) Start() {
	p.callID = p.reactor.CallEvery(p.interval, p.Ping)
	p.hasCallID = true
}

// Ping performs a single probe off the loop goroutine and, if messages
// are waiting, schedules an urgent exchange back on it.
func (p *Pinger) Ping() {
	insecureID := p.identity.InsecureID()
	if insecureID == "" {
		return
	}
	target := p.url
	p.reactor.CallInThread(func() (any, error) {
		return p.client.Ping(context.Background(), target, insecureID)
	}, func(result any, err error) {
		if err != nil {
			logging.Op().Warn("pinger: error contacting ping server", "url", target, "error", err)
			return
		}
		if hasMessages, _ := result.(bool); hasMessages {
			logging.Op().Info("pinger: ping indicates message available, scheduling urgent exchange")
			p.exchanger.Schedule(true, false)
		}
	})
}

func (p *Pinger) handleSetIntervals(args map[string]any) {
	message, ok := args["message"].(bpickle.Value)
	if !ok {
		return
	}
	if message.Kind != bpickle.KindDict {
		return
	}
	if messagestore.Type(message) != "set-intervals" {
		return
	}
	pingField, ok := message.Get("ping")
	if !ok || pingField.Kind != bpickle.KindInt {
		return
	}
	p.interval = time.Duration(pingField.Int) * time.Second
	logging.Op().Info("pinger: ping interval updated", "seconds", pingField.Int)
	if p.hasCallID {
		p.reactor.CancelCall(p.callID)
		p.callID = p.reactor.CallEvery(p.interval, p.Ping)
	}
}

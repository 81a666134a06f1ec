// Package transport implements the HTTP leg of an exchange: a bpickle
// payload goes out as an octet-stream POST with courier's identifying
// headers, and the server's bpickle response (or a typed error) comes
// back. It is grounded on internal/eventbus/webhook.go's pattern for an
// outbound, timed, audited HTTP delivery — redirect cap, timeout,
// structured audit trail — adapted from JSON+HMAC webhook delivery to
// bpickle message exchange with courier's own header set.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/courier/internal/bpickle"
)

// DefaultConnectTimeout is how long dialing (including TLS handshake) may
// take before an attempt is abandoned, distinct from the total exchange
// deadline.
const DefaultConnectTimeout = 30 * time.Second

// DefaultTotalTimeout bounds an entire exchange, dial through response body.
const DefaultTotalTimeout = 600 * time.Second

// UserAgentProduct is the product name/version pair sent as User-Agent.
const UserAgentProduct = "courier"

// HTTPCodeError is returned when the server responds with a non-200 status.
type HTTPCodeError struct {
	Code int
	Body []byte
}

func (e *HTTPCodeError) Error() string {
	return fmt.Sprintf("transport: server returned HTTP %d", e.Code)
}

// TransportError wraps a lower-level network/TLS failure, distinguishing
// TLS verification failures (which callers may want to surface
// differently, e.g. not retry indefinitely) from other connection errors.
type TransportError struct {
	Message         string
	TLSVerification bool
	Err             error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Message, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Options carries the per-exchange parameters that vary between calls.
type Options struct {
	ComputerID     string // empty if not yet registered
	ExchangeToken  string // empty until the server has issued one
	MessageAPI     string
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

// HTTPTransport exchanges bpickle payloads with a single server URL over HTTP(S).
type HTTPTransport struct {
	url            string
	client         *http.Client
	connectTimeout time.Duration
	tracer         trace.Tracer
	version        string
}

// New creates an HTTPTransport targeting url. version is embedded in the
// User-Agent header, matching "landscape-client/VERSION" in spirit.
// The dial phase (TCP connect + TLS handshake) is bounded by
// DefaultConnectTimeout independently of the overall exchange deadline,
// so a server that never completes the TCP connect or the TLS handshake
// fails fast instead of hanging for the full total timeout.
func New(url, version string) *HTTPTransport {
	return newWithTimeouts(url, version, DefaultConnectTimeout, DefaultTotalTimeout)
}

func newWithTimeouts(url, version string, connectTimeout, totalTimeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		url:            url,
		client:         buildClient(connectTimeout, totalTimeout),
		connectTimeout: connectTimeout,
		tracer:         otel.Tracer("courier/transport"),
		version:        version,
	}
}

func buildClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("transport: too many redirects")
			}
			return nil
		},
	}
}

// URL returns the currently configured server URL.
func (t *HTTPTransport) URL() string { return t.url }

// SetURL updates the server URL, e.g. after following a server-issued redirect.
func (t *HTTPTransport) SetURL(url string) { t.url = url }

// Exchange POSTs payload (already bpickle-encoded) and returns the
// server's decoded bpickle response.
func (t *HTTPTransport) Exchange(ctx context.Context, payload []byte, opts Options) (bpickle.Value, error) {
	ctx, span := t.tracer.Start(ctx, "courier.transport.exchange")
	defer span.End()
	span.SetAttributes(attribute.Int("payload.bytes", len(payload)))

	client := t.client
	if (opts.ConnectTimeout > 0 && opts.ConnectTimeout != t.connectTimeout) || opts.TotalTimeout > 0 {
		connectTimeout := opts.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = t.connectTimeout
		}
		totalTimeout := opts.TotalTimeout
		if totalTimeout <= 0 {
			totalTimeout = t.client.Timeout
		}
		client = buildClient(connectTimeout, totalTimeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return bpickle.Value{}, fmt.Errorf("transport: build request: %w", err)
	}

	messageAPI := opts.MessageAPI
	if messageAPI == "" {
		messageAPI = "3.2"
	}
	req.Header.Set("X-Message-API", messageAPI)
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", UserAgentProduct, t.version))
	req.Header.Set("Content-Type", "application/octet-stream")
	if opts.ComputerID != "" {
		req.Header.Set("X-Computer-ID", opts.ComputerID)
	}
	if opts.ExchangeToken != "" {
		req.Header.Set("X-Exchange-Token", opts.ExchangeToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		return bpickle.Value{}, classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return bpickle.Value{}, &TransportError{Message: "reading response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return bpickle.Value{}, &HTTPCodeError{Code: resp.StatusCode, Body: body}
	}

	decoded, err := bpickle.Decode(body)
	if err != nil {
		return bpickle.Value{}, fmt.Errorf("transport: server returned invalid payload: %w", err)
	}
	return decoded, nil
}

func classifyError(err error) error {
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return &TransportError{Message: "TLS certificate verification failed", TLSVerification: true, Err: err}
	}
	var genErr *tls.RecordHeaderError
	if errors.As(err, &genErr) {
		return &TransportError{Message: "TLS handshake failed", Err: err}
	}
	return &TransportError{Message: "request failed", Err: err}
}

// Package exchange implements the core protocol engine that drives a
// bidirectional message exchange with a remote management server: it
// schedules exchanges on the reactor, assembles and sends payloads built
// from pending MessageStore entries, submits them through the HTTP
// transport off the loop goroutine, and processes the server's response
// (sequencing, server API negotiation, server-sent message dispatch).
// It is grounded on internal/scheduler/scheduler.go for the
// schedule/reschedule/cancel shape and on internal/eventbus/webhook.go
// for the submit-then-record-outcome pattern, generalized from cron jobs
// and webhook deliveries to the landscape-client exchange loop.
package exchange

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oriys/courier/internal/bpickle"
	"github.com/oriys/courier/internal/circuitbreaker"
	"github.com/oriys/courier/internal/exchangestore"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/messagestore"
	"github.com/oriys/courier/internal/reactor"
	"github.com/oriys/courier/internal/transport"
)

// ClientAPI is the highest message API version this build speaks.
const ClientAPI = "3.3"

// RegistrationInfo supplies the identity field the exchange engine needs
// but does not own: the secure ID issued at registration.
type RegistrationInfo interface {
	SecureID() string
}

// Config carries the tunables the exchange loop reads and, in the
// set-intervals case, rewrites.
type Config struct {
	ExchangeInterval      time.Duration
	UrgentExchangeInterval time.Duration
	MaxMessages            int

	mu sync.Mutex
}

func (c *Config) get() (exchangeInterval, urgentInterval time.Duration, maxMessages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ExchangeInterval, c.UrgentExchangeInterval, c.MaxMessages
}

// SetIntervals updates the exchange intervals after a server
// "set-intervals" message. The change is held in memory only; nothing is
// written back to the configuration file.
func (c *Config) SetIntervals(exchangeInterval, urgentInterval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exchangeInterval > 0 {
		c.ExchangeInterval = exchangeInterval
	}
	if urgentInterval > 0 {
		c.UrgentExchangeInterval = urgentInterval
	}
}

// Handler responds to a single message received from the server.
type Handler func(message messagestore.Message)

// Metrics holds the Prometheus instrumentation for the exchange engine.
type Metrics struct {
	duration *prometheus.HistogramVec
	attempts *prometheus.CounterVec
}

// NewMetrics registers the exchange collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "courier",
			Subsystem: "exchange",
			Name:      "duration_seconds",
			Help:      "Duration of a message exchange round trip.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "exchange",
			Name:      "attempts_total",
			Help:      "Exchange attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.duration, m.attempts)
	return m
}

func (m *Metrics) observe(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(outcome).Observe(d.Seconds())
	m.attempts.WithLabelValues(outcome).Inc()
}

// Exchange drives repeated message exchanges with a single server,
// the Go reshaping of the original's MessageExchange class.
type Exchange struct {
	reactor       *reactor.Reactor
	store         *messagestore.Store
	exchangeStore *exchangestore.Store
	transport     *transport.HTTPTransport
	registration  RegistrationInfo
	config        *Config
	breaker       *circuitbreaker.Breaker
	metrics       *Metrics

	mu                      sync.Mutex
	exchanging              bool
	urgentExchange          bool
	stopped                 bool
	exchangeCallID          reactor.CallID
	hasExchangeCall         bool
	notificationCallID      reactor.CallID
	hasNotificationCall     bool
	clientAcceptedTypes     map[string]struct{}
	clientAcceptedTypesHash []byte
	messageHandlers         map[string][]Handler
}

// New builds an Exchange. r must be the same reactor the rest of
// the agent's components schedule work on, since message handlers and
// the impending-exchange notification are fired as reactor events.
func New(r *reactor.Reactor, store *messagestore.Store, exchangeStore *exchangestore.Store, tr *transport.HTTPTransport, reg RegistrationInfo, cfg *Config, breaker *circuitbreaker.Breaker, metrics *Metrics) *Exchange {
	e := &Exchange{
		reactor:             r,
		store:               store,
		exchangeStore:       exchangeStore,
		transport:           tr,
		registration:        reg,
		config:              cfg,
		breaker:             breaker,
		metrics:             metrics,
		clientAcceptedTypes: make(map[string]struct{}),
		messageHandlers:     make(map[string][]Handler),
	}
	e.RegisterMessage("accepted-types", e.handleAcceptedTypes)
	e.RegisterMessage("resynchronize", e.handleResynchronize)
	e.RegisterMessage("set-intervals", e.handleSetIntervals)
	r.CallOn("resynchronize-clients", func(map[string]any) { e.resynchronize(nil) })
	return e
}

// Send queues message for delivery, the Go analog of MessageExchange.send.
// A response whose operation-id was recorded under a different secure ID
// than the current one is obsolete and is dropped rather than queued.
func (e *Exchange) Send(ctx context.Context, message messagestore.Message, urgent bool) (int64, error) {
	if e.messageIsObsolete(ctx, message) {
		return 0, nil
	}
	if _, ok := message.Get("timestamp"); !ok {
		message = messagestore.WithField(message, "timestamp", bpickle.Int(e.now().Unix()))
	}
	id, err := e.store.Add(message)
	if err != nil {
		return 0, err
	}
	if urgent {
		e.Schedule(true, false)
	}
	return id, nil
}

func (e *Exchange) messageIsObsolete(ctx context.Context, message messagestore.Message) bool {
	opField, ok := message.Get("operation-id")
	if !ok {
		return false
	}
	var operationID int64
	switch opField.Kind {
	case bpickle.KindInt:
		operationID = opField.Int
	default:
		return false
	}
	mc, err := e.exchangeStore.Get(ctx, operationID)
	if err != nil {
		return false
	}
	return mc.SecureID != e.registration.SecureID()
}

func (e *Exchange) now() time.Time { return time.Now() }

// Start is a no-op placeholder mirroring the original's start/stop pair;
// scheduling begins the first time Schedule is called.
func (e *Exchange) Start() {}

// Stop cancels any scheduled exchange and prevents further scheduling.
func (e *Exchange) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.hasExchangeCall {
		e.reactor.CancelCall(e.exchangeCallID)
		e.hasExchangeCall = false
	}
	if e.hasNotificationCall {
		e.reactor.CancelCall(e.notificationCallID)
		e.hasNotificationCall = false
	}
}

// IsUrgent reports whether an urgent exchange is currently scheduled.
func (e *Exchange) IsUrgent() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.urgentExchange
}

// Schedule arranges for Exchange.Run to fire after an interval governed
// by urgent/force, matching schedule_exchange's reschedule matrix:
// nothing happens while an exchange is in progress (even with force), a
// plain call only schedules if nothing is already pending, and urgent
// reschedules onto the urgent interval unless an urgent exchange is
// already queued.
func (e *Exchange) Schedule(urgent, force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if e.exchanging {
		return
	}
	shouldSchedule := force || !e.hasExchangeCall || (urgent && !e.urgentExchange)
	if !shouldSchedule {
		return
	}
	if urgent {
		e.urgentExchange = true
	}
	if e.hasExchangeCall {
		e.reactor.CancelCall(e.exchangeCallID)
	}

	exchangeInterval, urgentInterval, _ := e.config.get()
	interval := exchangeInterval
	if e.urgentExchange {
		interval = urgentInterval
	}

	if e.hasNotificationCall {
		e.reactor.CancelCall(e.notificationCallID)
	}
	notificationInterval := interval - 10*time.Second
	if notificationInterval < 0 {
		notificationInterval = 0
	}
	e.notificationCallID = e.reactor.CallLater(notificationInterval, func() {
		e.reactor.Fire("impending-exchange", nil)
	})
	e.hasNotificationCall = true

	e.exchangeCallID = e.reactor.CallLater(interval, func() { e.Run(context.Background()) })
	e.hasExchangeCall = true
}

// Run performs one exchange attempt: it builds the payload from pending
// messages, submits it over HTTP off the loop goroutine via
// CallInThread, and processes the result once control returns to the
// loop. It is the Go shape of the original's exchange() method, minus
// its Deferred bookkeeping since callers here don't need one: Schedule
// always re-fires Run on the reactor's own timer.
func (e *Exchange) Run(ctx context.Context) {
	e.mu.Lock()
	if e.exchanging {
		e.mu.Unlock()
		return
	}
	if e.breaker != nil && !e.breaker.Allow() {
		e.mu.Unlock()
		logging.Op().Warn("exchange: circuit breaker open, skipping attempt")
		e.Schedule(false, true)
		return
	}
	e.exchanging = true
	urgent := e.urgentExchange
	e.mu.Unlock()

	e.reactor.Fire("pre-exchange", nil)

	payload, err := e.makePayload()
	if err != nil {
		e.mu.Lock()
		e.exchanging = false
		e.mu.Unlock()
		e.finishExchange(false, 0, err)
		return
	}

	start := time.Now()
	if urgent {
		logging.Op().Info("exchange: starting urgent message exchange", "url", e.transport.URL())
	} else {
		logging.Op().Info("exchange: starting message exchange", "url", e.transport.URL())
	}

	exchangeToken := e.getExchangeToken()
	serverAPI := messagestore.API(payload, messagestore.DefaultServerAPI)

	encoded, err := bpickle.Encode(payload)
	if err != nil {
		e.mu.Lock()
		e.exchanging = false
		e.mu.Unlock()
		e.finishExchange(false, 0, err)
		return
	}

	e.reactor.CallInThread(func() (any, error) {
		return e.transport.Exchange(ctx, encoded, transport.Options{
			ComputerID:    e.registration.SecureID(),
			ExchangeToken: exchangeToken,
			MessageAPI:    serverAPI,
		})
	}, func(result any, err error) {
		e.onExchangeDone(ctx, payload, start, result, err)
	})
}

func (e *Exchange) onExchangeDone(ctx context.Context, payload messagestore.Message, start time.Time, result any, err error) {
	e.mu.Lock()
	e.exchanging = false
	e.mu.Unlock()

	if err != nil {
		var codeErr *transport.HTTPCodeError
		if errors.As(err, &codeErr) && codeErr.Code == 404 {
			if e.store.GetServerAPI() != messagestore.DefaultServerAPI {
				if setErr := e.store.SetServerAPI(messagestore.DefaultServerAPI); setErr == nil {
					e.Run(ctx)
					return
				}
			}
		}

		sslError := false
		var transportErr *transport.TransportError
		if errors.As(err, &transportErr) && transportErr.TLSVerification {
			sslError = true
			logging.Op().Error("exchange: message exchange failed", "error", err)
		}

		e.reactor.Fire("exchange-failed", map[string]any{"ssl_error": sslError})
		e.store.RecordFailure()
		logging.Op().Info("exchange: message exchange failed")
		e.finishExchange(false, time.Since(start), err)
		return
	}

	response, ok := result.(bpickle.Value)
	if !ok {
		e.finishExchange(false, time.Since(start), fmt.Errorf("exchange: unexpected result type %T", result))
		return
	}

	if e.urgentExchange {
		logging.Op().Info("exchange: switching to normal exchange mode")
		e.mu.Lock()
		e.urgentExchange = false
		e.mu.Unlock()
	}
	e.handleResult(ctx, payload, response)
	e.store.RecordSuccess()
	e.finishExchange(true, time.Since(start), nil)
}

func (e *Exchange) finishExchange(success bool, elapsed time.Duration, err error) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	e.metrics.observe(outcome, elapsed)
	if e.breaker != nil {
		if success {
			e.breaker.RecordSuccess()
		} else {
			e.breaker.RecordFailure()
		}
	}

	entry := &logging.ExchangeLog{
		URL:        e.transport.URL(),
		Urgent:     e.IsUrgent(),
		DurationMs: elapsed.Milliseconds(),
		Success:    success,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logging.Default().Log(entry)

	if !success {
		e.reactor.Fire("exchange-failed-final", nil)
	}
	e.Schedule(false, true)
	e.reactor.Fire("exchange-done", nil)
	if success {
		logging.Op().Info("exchange: message exchange completed", "elapsed", elapsed)
	}
}

func (e *Exchange) getExchangeToken() string {
	token := e.store.GetExchangeToken()
	e.store.SetExchangeToken(nil)
	e.store.Commit()
	if token == nil {
		return ""
	}
	return *token
}

// makePayload assembles the dict sent as the exchange request body,
// the Go shape of _make_payload: pending messages are truncated to a
// single homogeneous API version so the server never has to reconcile
// a batch written under two different schemas.
func (e *Exchange) makePayload() (messagestore.Message, error) {
	_, _, maxMessages := e.config.get()
	if maxMessages <= 0 {
		maxMessages = 100
	}
	acceptedDigest := e.hashTypes(e.store.GetAcceptedTypes())
	messages, err := e.store.GetPendingMessages(maxMessages)
	if err != nil {
		return messagestore.Message{}, err
	}

	var serverAPI string
	if len(messages) > 0 {
		serverAPI = messagestore.API(messages[0], messagestore.DefaultServerAPI)
		cut := len(messages)
		for i, m := range messages {
			if messagestore.API(m, messagestore.DefaultServerAPI) != serverAPI {
				cut = i
				break
			}
		}
		messages = messages[:cut]
	} else {
		serverAPI = e.store.GetServerAPI()
	}

	fields := map[string]bpickle.Value{
		"server-api":              bpickle.Text(serverAPI),
		"client-api":              bpickle.Text(ClientAPI),
		"sequence":                bpickle.Int(e.store.GetSequence()),
		"accepted-types":          bpickle.Bytes(acceptedDigest),
		"messages":                bpickle.List(messages...),
		"total-messages":          bpickle.Int(int64(e.store.CountPendingMessages())),
		"next-expected-sequence":  bpickle.Int(e.store.GetServerSequence()),
	}

	clientTypes := e.GetClientAcceptedMessageTypes()
	clientHash := e.hashTypes(clientTypes)
	e.mu.Lock()
	changed := !bytesEqual(clientHash, e.clientAcceptedTypesHash)
	e.mu.Unlock()
	if changed {
		typeValues := make([]bpickle.Value, len(clientTypes))
		for i, t := range clientTypes {
			typeValues[i] = bpickle.Text(t)
		}
		fields["client-accepted-types"] = bpickle.List(typeValues...)
	}

	return bpickle.Dict(fields), nil
}

func (e *Exchange) hashTypes(types []string) []byte {
	sum := md5.Sum([]byte(strings.Join(types, ";")))
	return sum[:]
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// handleResult processes the server's response: sequencing, exchange
// token, server UUID and API negotiation, dispatch of any server-sent
// messages, and a follow-up urgent exchange if messages remain queued,
// the Go shape of _handle_result.
func (e *Exchange) handleResult(ctx context.Context, payload, result messagestore.Message) {
	if hash, ok := result.Get("client-accepted-types-hash"); ok && hash.Kind == bpickle.KindBytes {
		e.mu.Lock()
		e.clientAcceptedTypesHash = hash.Bytes
		e.mu.Unlock()
	}

	oldSequence := e.store.GetSequence()
	var nextExpected int64
	if v, ok := result.Get("next-expected-sequence"); ok && v.Kind == bpickle.KindInt {
		nextExpected = v.Int
	} else {
		msgs, _ := payload.Get("messages")
		nextExpected = oldSequence + int64(len(msgs.List))
	}

	outcome := messagestore.GotNextExpected(e.store, nextExpected)
	if outcome.Resync {
		logging.Op().Info("exchange: server asked for ancient data, resynchronizing all state")
		e.Send(ctx, messagestore.NewMessage("resynchronize", nil), false)
		e.reactor.Fire("resynchronize-clients", nil)
	}

	if token, ok := result.Get("next-exchange-token"); ok && token.Kind == bpickle.KindText {
		t := token.Text
		e.store.SetExchangeToken(&t)
	} else {
		e.store.SetExchangeToken(nil)
	}

	oldUUID := e.store.GetServerUUID()
	var newUUID *string
	if v, ok := result.Get("server-uuid"); ok {
		switch v.Kind {
		case bpickle.KindText:
			s := v.Text
			newUUID = &s
		case bpickle.KindBytes:
			s := string(v.Bytes)
			newUUID = &s
		}
	}
	if !samePtr(oldUUID, newUUID) {
		logging.Op().Info("exchange: server UUID changed", "old", derefOr(oldUUID, ""), "new", derefOr(newUUID, ""))
		e.reactor.Fire("server-uuid-changed", map[string]any{"old": oldUUID, "new": newUUID})
		e.store.SetServerUUID(newUUID)
	}

	serverAPI := messagestore.DefaultServerAPI
	if v, ok := result.Get("server-api"); ok {
		switch v.Kind {
		case bpickle.KindText:
			serverAPI = v.Text
		case bpickle.KindBytes:
			serverAPI = string(v.Bytes)
		}
	}

	if isHigher(serverAPI, e.store.GetServerAPI()) {
		lowest := messagestore.DefaultServerAPI
		sorted := sortVersionsDesc([]string{serverAPI, ClientAPI})
		if len(sorted) > 0 {
			lowest = sorted[len(sorted)-1]
		}
		e.store.SetServerAPI(lowest)
	}
	e.store.Commit()

	sequence := e.store.GetServerSequence()
	if msgs, ok := result.Get("messages"); ok && msgs.Kind == bpickle.KindList {
		for _, m := range msgs.List {
			e.HandleMessage(ctx, m)
			sequence++
			e.store.SetServerSequence(sequence)
			e.store.Commit()
		}
	}

	if pending, _ := e.store.GetPendingMessages(1); len(pending) > 0 {
		logging.Op().Info("exchange: pending messages remain after the last exchange")
		if nextExpected != oldSequence {
			e.Schedule(true, false)
		}
	}
}

func samePtr(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func isHigher(v1, v2 string) bool {
	return cmpVersion(v1, v2) > 0
}

func cmpVersion(v1, v2 string) int {
	a1, a2 := splitVersion(v1), splitVersion(v2)
	if a1[0] != a2[0] {
		if a1[0] > a2[0] {
			return 1
		}
		return -1
	}
	if a1[1] != a2[1] {
		if a1[1] > a2[1] {
			return 1
		}
		return -1
	}
	return 0
}

func splitVersion(v string) [2]int {
	var out [2]int
	parts := strings.SplitN(v, ".", 2)
	fmt.Sscanf(parts[0], "%d", &out[0])
	if len(parts) > 1 {
		fmt.Sscanf(parts[1], "%d", &out[1])
	}
	return out
}

func sortVersionsDesc(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.Slice(out, func(i, j int) bool { return cmpVersion(out[i], out[j]) > 0 })
	return out
}

// RegisterMessage registers handler to run whenever a message of type
// msgType is received from the server, and marks msgType as one the
// client accepts, mirroring register_message.
func (e *Exchange) RegisterMessage(msgType string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageHandlers[msgType] = append(e.messageHandlers[msgType], handler)
	e.clientAcceptedTypes[msgType] = struct{}{}
}

// HandleMessage dispatches a single server-sent message to every handler
// registered for its type, recording an exchange-store context entry
// first if the message carries an operation-id awaiting a response.
func (e *Exchange) HandleMessage(ctx context.Context, message messagestore.Message) {
	if opField, ok := message.Get("operation-id"); ok && opField.Kind == bpickle.KindInt {
		e.exchangeStore.Add(ctx, opField.Int, e.registration.SecureID(), messagestore.Type(message))
	}

	e.reactor.Fire("message", map[string]any{"message": message})

	msgType := messagestore.Type(message)
	e.mu.Lock()
	handlers := append([]Handler(nil), e.messageHandlers[msgType]...)
	e.mu.Unlock()
	for _, h := range handlers {
		h(message)
	}
}

// RegisterClientAcceptedMessageType marks msgType as accepted by this
// client without registering a handler for it, the Go analog of
// register_client_accepted_message_type.
func (e *Exchange) RegisterClientAcceptedMessageType(msgType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clientAcceptedTypes[msgType] = struct{}{}
}

// GetClientAcceptedMessageTypes returns the sorted set of message types
// this client currently accepts from the server.
func (e *Exchange) GetClientAcceptedMessageTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.clientAcceptedTypes))
	for t := range e.clientAcceptedTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (e *Exchange) handleAcceptedTypes(message messagestore.Message) {
	typesField, ok := message.Get("types")
	if !ok || typesField.Kind != bpickle.KindList {
		return
	}
	newTypes := make([]string, 0, len(typesField.List))
	for _, v := range typesField.List {
		if v.Kind == bpickle.KindText {
			newTypes = append(newTypes, v.Text)
		} else if v.Kind == bpickle.KindBytes {
			newTypes = append(newTypes, string(v.Bytes))
		}
	}
	oldTypes := e.store.GetAcceptedTypes()
	diff := acceptedTypesDiff(oldTypes, newTypes)
	e.reactor.Fire("message-type-acceptance-changed", map[string]any{"diff": diff})

	oldSet := make(map[string]struct{}, len(oldTypes))
	for _, t := range oldTypes {
		oldSet[t] = struct{}{}
	}
	unlocked := false
	for _, t := range newTypes {
		if _, existed := oldSet[t]; !existed {
			unlocked = true
			break
		}
	}

	if err := e.store.SetAcceptedTypes(newTypes); err != nil {
		logging.Op().Error("exchange: failed to set accepted types", "error", err)
		return
	}
	if unlocked {
		e.Schedule(true, false)
	}
}

func acceptedTypesDiff(oldTypes, newTypes []string) string {
	oldSet := make(map[string]struct{}, len(oldTypes))
	for _, t := range oldTypes {
		oldSet[t] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newTypes))
	for _, t := range newTypes {
		newSet[t] = struct{}{}
	}
	var added, stable, removed []string
	for t := range newSet {
		if _, ok := oldSet[t]; ok {
			stable = append(stable, t)
		} else {
			added = append(added, t)
		}
	}
	for t := range oldSet {
		if _, ok := newSet[t]; !ok {
			removed = append(removed, t)
		}
	}
	sort.Strings(added)
	sort.Strings(stable)
	sort.Strings(removed)
	var parts []string
	for _, t := range added {
		parts = append(parts, "+"+t)
	}
	parts = append(parts, stable...)
	for _, t := range removed {
		parts = append(parts, "-"+t)
	}
	return strings.Join(parts, " ")
}

func (e *Exchange) handleResynchronize(messagestore.Message) {
	e.resynchronize(nil)
}

func (e *Exchange) resynchronize(scopes []string) {
	e.store.DropSessionIDs(scopes)
	e.Schedule(true, false)
}

func (e *Exchange) handleSetIntervals(message messagestore.Message) {
	var exchangeInterval, urgentInterval time.Duration
	if v, ok := message.Get("exchange"); ok && v.Kind == bpickle.KindInt {
		exchangeInterval = time.Duration(v.Int) * time.Second
	}
	if v, ok := message.Get("urgent-exchange"); ok && v.Kind == bpickle.KindInt {
		urgentInterval = time.Duration(v.Int) * time.Second
	}
	e.config.SetIntervals(exchangeInterval, urgentInterval)
}

// Package messagestore implements the durable, ordered, file-backed
// outbound queue described by the sequencing scheme in
// landscape/client/broker/store.py: messages are written one per file
// under a sharded directory tree, tagged with "held"/"broken" flags in
// their filename, and a sequence/pending-offset pair (persisted via
// internal/kvstore) tracks which of them the peer has already
// acknowledged.
package messagestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/courier/internal/bpickle"
	"github.com/oriys/courier/internal/kvstore"
	"github.com/oriys/courier/internal/logging"
)

const (
	flagHeld   = "h"
	flagBroken = "b"

	// blackholeAfter is how long of continuous exchange failure causes
	// the store to stop accepting new messages and demand a resync.
	blackholeAfter = 7 * 24 * time.Hour
)

var errNoInode = errors.New("messagestore: platform does not expose inode numbers")

// Clock abstracts time.Now so tests can simulate the week-long blackhole
// window without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is a single outbound message queue rooted at a directory.
type Store struct {
	mu            sync.Mutex
	directory     string
	directorySize int
	clock         Clock
	registry      *Registry
	persist       *kvstore.Store
	scoped        *kvstore.Scoped
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDirectorySize overrides the default 1000 messages-per-directory shard size.
func WithDirectorySize(n int) Option {
	return func(s *Store) { s.directorySize = n }
}

// WithClock overrides the store's time source.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates a Store rooted at directory, backed by persist for
// metadata, registering schemas from registry (may be nil for none).
func New(persist *kvstore.Store, directory string, registry *Registry, opts ...Option) (*Store, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Store{
		directory:     directory,
		directorySize: 1000,
		clock:         realClock{},
		registry:      registry,
		persist:       persist,
		scoped:        persist.RootAt("message-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.messageDir(), 0o755); err != nil {
		return nil, fmt.Errorf("messagestore: create directory: %w", err)
	}
	return s, nil
}

// Commit persists metadata (sequence, pending offset, accepted types, ...)
// to disk via the backing kvstore.
func (s *Store) Commit() error {
	return s.persist.Save()
}

// --- accepted types -------------------------------------------------

// SetAcceptedTypes records the message types the server currently
// accepts from us, and reprocesses the held/unheld status of queued
// messages accordingly.
func (s *Store) SetAcceptedTypes(types []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]string(nil), types...)
	sort.Strings(sorted)
	sorted = dedupe(sorted)

	items := make([]bpickle.Value, len(sorted))
	for i, t := range sorted {
		items[i] = bpickle.Text(t)
	}
	if err := s.scoped.Set("accepted-types", bpickle.List(items...)); err != nil {
		return err
	}
	return s.reprocessHolding()
}

// GetAcceptedTypes returns the currently accepted message types.
func (s *Store) GetAcceptedTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAcceptedTypesLocked()
}

func (s *Store) getAcceptedTypesLocked() []string {
	v, ok := s.scoped.Get("accepted-types")
	if !ok || v.Kind != bpickle.KindList {
		return nil
	}
	out := make([]string, 0, len(v.List))
	for _, item := range v.List {
		if item.Kind == bpickle.KindText {
			out = append(out, item.Text)
		}
	}
	return out
}

// Accepts reports whether msgType is currently accepted by the server.
func (s *Store) Accepts(msgType string) bool {
	for _, t := range s.GetAcceptedTypes() {
		if t == msgType {
			return true
		}
	}
	return false
}

// --- sequence bookkeeping --------------------------------------------

func (s *Store) GetSequence() int64        { return s.scoped.GetInt("sequence", 0) }
func (s *Store) SetSequence(n int64) error { return s.scoped.SetInt("sequence", n) }

func (s *Store) GetServerSequence() int64        { return s.scoped.GetInt("server_sequence", 0) }
func (s *Store) SetServerSequence(n int64) error { return s.scoped.SetInt("server_sequence", n) }

func (s *Store) GetServerUUID() *string          { return s.scoped.GetTextPtr("server_uuid") }
func (s *Store) SetServerUUID(v *string) error   { return s.scoped.SetTextPtr("server_uuid", v) }

func (s *Store) GetServerAPI() string {
	v := s.scoped.GetTextPtr("server_api")
	if v == nil || *v == "" {
		return DefaultServerAPI
	}
	return *v
}
func (s *Store) SetServerAPI(api string) error { return s.scoped.Set("server_api", bpickle.Text(api)) }

func (s *Store) GetExchangeToken() *string        { return s.scoped.GetTextPtr("exchange_token") }
func (s *Store) SetExchangeToken(v *string) error { return s.scoped.SetTextPtr("exchange_token", v) }

func (s *Store) GetPendingOffset() int64        { return s.scoped.GetInt("pending_offset", 0) }
func (s *Store) SetPendingOffset(n int64) error { return s.scoped.SetInt("pending_offset", n) }
func (s *Store) AddPendingOffset(n int64) error {
	return s.SetPendingOffset(s.GetPendingOffset() + n)
}

// --- message pool ------------------------------------------------------

// CountPendingMessages returns how many queued messages are neither held nor broken and not yet sent.
func (s *Store) CountPendingMessages() int {
	n := 0
	for range s.walkPendingMessages() {
		n++
	}
	return n
}

// GetPendingMessages returns up to max messages eligible for sending,
// holding any whose type/API is not currently acceptable to the server.
func (s *Store) GetPendingMessages(max int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := s.getAcceptedTypesLocked()
	serverAPI := s.GetServerAPI()
	var messages []Message
	for _, filename := range s.walkPendingMessages() {
		if max > 0 && len(messages) >= max {
			break
		}
		data, err := os.ReadFile(filename)
		if err != nil {
			continue
		}
		msg, err := bpickle.Decode(data)
		if err != nil {
			logging.Op().Warn("dropping unreadable queued message", "file", filename, "error", err)
			s.addFlags(filename, flagBroken)
			continue
		}
		msgType := Type(msg)
		msgAPI := API(msg, serverAPI)
		if !contains(accepted, msgType) || !isVersionHigherOrEqual(serverAPI, msgAPI) {
			s.addFlags(filename, flagHeld)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// DeleteOldMessages removes the first GetPendingOffset() non-held,
// non-broken messages: the ones the peer has acknowledged.
func (s *Store) DeleteOldMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset := int(s.GetPendingOffset())
	files := s.walkMessages(flagHeld + flagBroken)
	for i, fn := range files {
		if i >= offset {
			break
		}
		os.Remove(fn)
		dir := filepath.Dir(fn)
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}
}

// DeleteAllMessages removes every queued message and resets the offset.
func (s *Store) DeleteAllMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.SetPendingOffset(0); err != nil {
		return err
	}
	for _, fn := range s.walkMessages("") {
		os.Remove(fn)
	}
	return nil
}

// Add queues message for delivery, returning a message id. A zero id
// with no error means the blackhole guard silently dropped the message
// while awaiting resync; errors come from a missing type, schema
// coercion or file I/O.
func (s *Store) Add(message Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scoped.GetInt("blackhole-messages", 0) != 0 {
		logging.Op().Debug("dropped message, awaiting resync")
		return 0, nil
	}

	if Type(message) == "" {
		return 0, fmt.Errorf("messagestore: message has no type")
	}

	serverAPI := s.GetServerAPI()
	if _, ok := message.Get("api"); !ok {
		message = WithField(message, "api", bpickle.Text(serverAPI))
	}

	coerced, err := s.registry.Coerce(message, serverAPI)
	if err != nil {
		return 0, fmt.Errorf("messagestore: coerce: %w", err)
	}

	data, err := bpickle.Encode(coerced)
	if err != nil {
		return 0, fmt.Errorf("messagestore: encode: %w", err)
	}

	filename, err := s.getNextMessageFilename()
	if err != nil {
		return 0, err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return 0, fmt.Errorf("messagestore: write: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return 0, fmt.Errorf("messagestore: rename: %w", err)
	}

	if !contains(s.getAcceptedTypesLocked(), Type(coerced)) {
		filename = s.setFlags(filename, flagHeld)
	}

	id, err := messageID(filename)
	if err != nil {
		return 0, fmt.Errorf("messagestore: message id: %w", err)
	}
	return id, nil
}

// IsPending reports whether id still hasn't been delivered.
func (s *Store) IsPending(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := 0
	pendingOffset := int(s.GetPendingOffset())
	for _, fn := range s.walkMessages(flagBroken) {
		flags := s.getFlags(fn)
		fileID, err := messageID(fn)
		if err == nil && (strings.Contains(flags, flagHeld) || i >= pendingOffset) && fileID == id {
			return true
		}
		if !strings.Contains(flags, flagBroken) && !strings.Contains(flags, flagHeld) {
			i++
		}
	}
	return false
}

// --- failure/backoff ----------------------------------------------------

// RecordSuccess clears any failure-streak bookkeeping.
func (s *Store) RecordSuccess() error {
	s.scoped.Set("first-failure-time", bpickle.Null())
	return s.scoped.Set("blackhole-messages", bpickle.Null())
}

// RecordFailure tracks a failed exchange; after a week of continuous
// failure it queues a resynchronize message and stops accepting new ones.
func (s *Store) RecordFailure() error {
	now := s.clock.Now()
	first, ok := s.scoped.Get("first-failure-time")
	if !ok || first.IsNull() {
		if err := s.scoped.Set("first-failure-time", bpickle.Int(now.Unix())); err != nil {
			return err
		}
		first = bpickle.Int(now.Unix())
	}
	if s.scoped.GetInt("blackhole-messages", 0) != 0 {
		return nil
	}
	elapsed := time.Duration(now.Unix()-first.Int) * time.Second
	if elapsed > blackholeAfter {
		if _, err := s.Add(NewMessage("resynchronize", nil)); err != nil {
			return err
		}
		if err := s.scoped.Set("blackhole-messages", bpickle.Int(1)); err != nil {
			return err
		}
		logging.Op().Warn("exchange has failed continuously for over a week, blackholing until resync")
	}
	return nil
}

// --- session ids ----------------------------------------------------

// GetSessionID returns a persisted, freshly-generated-if-absent session
// id for the given scope (empty string means the default/global scope).
func (s *Store) GetSessionID(scope string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.sessionIDsLocked()
	for id, sc := range sessions {
		if sc == scope {
			return id
		}
	}
	id := uuid.NewString()
	sessions[id] = scope
	s.setSessionIDsLocked(sessions)
	return id
}

// IsValidSessionID reports whether id is known.
func (s *Store) IsValidSessionID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessionIDsLocked()[id]
	return ok
}

// DropSessionIDs clears all session ids, or only those in the given scopes.
func (s *Store) DropSessionIDs(scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(scopes) == 0 {
		s.setSessionIDsLocked(map[string]string{})
		return
	}
	kept := map[string]string{}
	for id, sc := range s.sessionIDsLocked() {
		if !contains(scopes, sc) {
			kept[id] = sc
		}
	}
	s.setSessionIDsLocked(kept)
}

func (s *Store) sessionIDsLocked() map[string]string {
	v, ok := s.scoped.Get("session-ids")
	out := map[string]string{}
	if !ok || v.Kind != bpickle.KindDict {
		return out
	}
	for id, sc := range v.Dict {
		out[id] = sc.Text
	}
	return out
}

func (s *Store) setSessionIDsLocked(m map[string]string) {
	d := make(map[string]bpickle.Value, len(m))
	for id, sc := range m {
		d[id] = bpickle.Text(sc)
	}
	s.scoped.Set("session-ids", bpickle.Dict(d))
}

// --- schema registration ----------------------------------------------

// AddSchema registers a coercer for a message type/API, exposed for
// callers that build the registry incrementally after construction.
func (s *Store) AddSchema(msgType, api string, c Coercer) {
	s.registry.Register(msgType, api, c)
}

// --- filesystem layout --------------------------------------------------

func (s *Store) messageDir(parts ...string) string {
	return filepath.Join(append([]string{s.directory}, parts...)...)
}

func (s *Store) getNextMessageFilename() (string, error) {
	dirs := s.getSortedShardNames("")
	var newest string
	if len(dirs) > 0 {
		newest = dirs[len(dirs)-1]
	} else {
		if err := os.MkdirAll(s.messageDir("0"), 0o755); err != nil {
			return "", err
		}
		newest = "0"
	}

	files := s.getSortedShardNames(newest)
	switch {
	case len(files) == 0:
		return s.messageDir(newest, "0"), nil
	case len(files) < s.directorySize:
		last := strings.SplitN(filepath.Base(files[len(files)-1]), "_", 2)[0]
		n, err := strconv.Atoi(last)
		if err != nil {
			return "", fmt.Errorf("messagestore: malformed shard entry %q", files[len(files)-1])
		}
		return s.messageDir(newest, strconv.Itoa(n+1)), nil
	default:
		n, err := strconv.Atoi(newest)
		if err != nil {
			return "", fmt.Errorf("messagestore: malformed shard directory %q", newest)
		}
		nextDir := s.messageDir(strconv.Itoa(n + 1))
		if err := os.MkdirAll(nextDir, 0o755); err != nil {
			return "", err
		}
		return filepath.Join(nextDir, "0"), nil
	}
}

// walkPendingMessages yields message files at or beyond the pending offset.
func (s *Store) walkPendingMessages() []string {
	offset := int(s.GetPendingOffset())
	all := s.walkMessages(flagHeld + flagBroken)
	if offset >= len(all) {
		return nil
	}
	return all[offset:]
}

// walkMessages lists every message file in sequence order, skipping any
// whose flags intersect exclude (a string of single-character flags).
func (s *Store) walkMessages(exclude string) []string {
	var out []string
	for _, dir := range s.getSortedShardNames("") {
		for _, name := range s.getSortedShardNames(dir) {
			flags := flagsOf(name)
			if exclude != "" && intersects(flags, exclude) {
				continue
			}
			out = append(out, s.messageDir(dir, name))
		}
	}
	return out
}

// getSortedShardNames lists entries of dir (relative to the store root,
// "" for the root itself) ordered by their leading numeric component.
func (s *Store) getSortedShardNames(dir string) []string {
	entries, err := os.ReadDir(s.messageDir(dir))
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ni, _ := strconv.Atoi(strings.SplitN(names[i], "_", 2)[0])
		nj, _ := strconv.Atoi(strings.SplitN(names[j], "_", 2)[0])
		return ni < nj
	})
	return names
}

func (s *Store) reprocessHolding() error {
	offset := 0
	pendingOffset := int(s.GetPendingOffset())
	accepted := s.getAcceptedTypesLocked()
	for _, oldFilename := range s.walkMessages("") {
		flags := s.getFlags(oldFilename)
		data, err := os.ReadFile(oldFilename)
		if err != nil {
			if !strings.Contains(flags, flagHeld) {
				offset++
			}
			continue
		}
		msg, err := bpickle.Decode(data)
		if err != nil {
			if !strings.Contains(flags, flagHeld) {
				offset++
			}
			continue
		}
		isAccepted := contains(accepted, Type(msg))
		if strings.Contains(flags, flagHeld) {
			if isAccepted {
				newFilename, ferr := s.getNextMessageFilename()
				if ferr != nil {
					return ferr
				}
				if err := os.Rename(oldFilename, newFilename); err != nil {
					return err
				}
				s.setFlags(newFilename, removeFlag(flags, flagHeld))
			}
		} else {
			if !isAccepted && offset >= pendingOffset {
				s.setFlags(oldFilename, flags+flagHeld)
			}
			offset++
		}
	}
	return nil
}

func (s *Store) getFlags(path string) string {
	return flagsOf(filepath.Base(path))
}

func flagsOf(basename string) string {
	if idx := strings.IndexByte(basename, '_'); idx >= 0 {
		return basename[idx+1:]
	}
	return ""
}

func (s *Store) setFlags(path, flags string) string {
	dir := filepath.Dir(path)
	base := strings.SplitN(filepath.Base(path), "_", 2)[0]
	newPath := filepath.Join(dir, base)
	if flags != "" {
		newPath += "_" + sortedUniqueFlags(flags)
	}
	if err := os.Rename(path, newPath); err != nil {
		logging.Op().Warn("messagestore: rename flags failed", "path", path, "error", err)
		return path
	}
	return newPath
}

func (s *Store) addFlags(path, add string) string {
	return s.setFlags(path, s.getFlags(path)+add)
}

func sortedUniqueFlags(flags string) string {
	set := map[rune]struct{}{}
	for _, r := range flags {
		set[r] = struct{}{}
	}
	var out []rune
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return string(out)
}

func removeFlag(flags, remove string) string {
	var out strings.Builder
	for _, r := range flags {
		if !strings.ContainsRune(remove, r) {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func intersects(a, b string) bool {
	for _, r := range a {
		if strings.ContainsRune(b, r) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	first := true
	for _, v := range sorted {
		if first || v != prev {
			out = append(out, v)
			prev = v
			first = false
		}
	}
	return out
}

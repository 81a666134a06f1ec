package messagestore

// SequenceOutcome reports the side effect GotNextExpected had on the
// store's bookkeeping, for the exchange engine to act on.
type SequenceOutcome struct {
	Resync bool
}

// GotNextExpected updates the store's sequence and pending offset in
// response to the peer's advertised next-expected-sequence number, and
// reports whether the exchange engine must request a full resynchronize.
//
// Four cases, matching the original got_next_expected exactly:
//
//  1. Future: the peer expects more than we could possibly have sent
//     (nextExpected - sequence > pending message count). We flush the
//     old queue, reset the offset so currently queued messages are
//     resent from scratch, and always resync — a delta this large means
//     the peer and we have diverged badly, and silently trusting it
//     risks treating unsent messages as acknowledged.
//  2. Regular: the peer has acknowledged messages we sent; drop the
//     previously retained ones and set the offset to the acknowledged
//     count.
//  3. Ancient: the peer wants messages so old we no longer have them;
//     reset the offset to 0 and resync.
//  4. Old: the peer wants some already-sent messages we still have
//     cached; rewind the offset to resend from there.
func GotNextExpected(s *Store, nextExpected int64) SequenceOutcome {
	oldSequence := s.GetSequence()
	pendingCount := int64(s.CountPendingMessages())

	var (
		pendingOffset int64
		resync        bool
	)

	switch {
	case (nextExpected - oldSequence) > pendingCount:
		s.DeleteOldMessages()
		pendingOffset = 0
		resync = true
	case nextExpected > oldSequence:
		s.DeleteOldMessages()
		pendingOffset = nextExpected - oldSequence
	case nextExpected < (oldSequence - s.GetPendingOffset()):
		pendingOffset = 0
		resync = true
	default:
		pendingOffset = s.GetPendingOffset() + nextExpected - oldSequence
	}

	s.SetPendingOffset(pendingOffset)
	s.SetSequence(nextExpected)
	return SequenceOutcome{Resync: resync}
}

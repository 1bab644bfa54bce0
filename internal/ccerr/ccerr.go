// Package ccerr implements the error taxonomy from spec.md §7: every error
// observed by the connection state machine or the download engine is
// classified into a Kind and tagged with whether it is attributable to the
// remote peer (uerr) or to the local side (err).
package ccerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery and logging purposes.
type Kind int

const (
	// KindUnknown is the zero value; never produced deliberately.
	KindUnknown Kind = iota
	// KindIO is a local incoming-file read/write/truncate failure.
	KindIO
	// KindHash is a verifier block-hash mismatch, attributed to the peer
	// that delivered the block.
	KindHash
	// KindNoFile covers remote "no file"/"no part" statuses.
	KindNoFile
	// KindSlotsFull covers remote status 53 / $MaxedOut.
	KindSlotsFull
	// KindProtocol covers malformed messages, unexpected commands for the
	// current state, and TLS keyprint mismatches.
	KindProtocol
	// KindNetwork covers socket-level failures and timeouts.
	KindNetwork
	// KindThrottled is a local admission rejection (status 50 / $Error).
	KindThrottled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindHash:
		return "hash"
	case KindNoFile:
		return "no-file"
	case KindSlotsFull:
		return "slots-full"
	case KindProtocol:
		return "protocol"
	case KindNetwork:
		return "network"
	case KindThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying whether it is attributable to the
// peer (PeerFault) or the local side.
type Error struct {
	Kind      Kind
	PeerFault bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, peerFault bool, err error) *Error {
	return &Error{Kind: kind, PeerFault: peerFault, Err: err}
}

// IO wraps a local incoming-file error. Never peer-attributed.
func IO(err error) *Error { return New(KindIO, false, err) }

// Hash builds a peer-attributed hash-mismatch error.
func Hash(msg string) *Error { return New(KindHash, true, errors.New(msg)) }

// NoFile builds a peer-attributed "no file"/"no part" error.
func NoFile(msg string) *Error { return New(KindNoFile, true, errors.New(msg)) }

// SlotsFull builds a peer-attributed slots-full error.
func SlotsFull() *Error { return New(KindSlotsFull, true, errors.New("no slots available")) }

// Protocol builds a protocol error. peerFault is true unless the bug is
// clearly ours (e.g. we sent a malformed message).
func Protocol(peerFault bool, err error) *Error { return New(KindProtocol, peerFault, err) }

// Network builds a network error with PeerFault false. It makes no
// distinction for failures during the handshake: those are not
// peer-attributed either.
func Network(err error) *Error { return New(KindNetwork, false, err) }

// Throttled builds a local admission-rejection error, surfaced to the peer
// as transient.
func Throttled() *Error { return New(KindThrottled, false, errors.New("action throttled")) }

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, else KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsPeerFault reports whether err is attributable to the remote peer.
func IsPeerFault(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.PeerFault
	}
	return false
}

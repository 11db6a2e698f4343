package wbh

import "fmt"

// State is the lifecycle position of a WatchItem or Chunk.
// The numeric values are persisted in older queue documents and must not change.
type State int

const (
	StateNew       State = 10 // just discovered by the scanner
	StateChanged   State = 20 // size moved between two polls
	StateUnchanged State = 30 // size stable across one poll interval
	StateInQueue   State = 40 // moved into the queue directory
	StateUploading State = 50 // cataloged, chunks being sent
	StateDone      State = 60 // cataloged and every chunk confirmed
	StateDeleted   State = 70 // source removed from disk
)

var stateNames = map[State]string{
	StateNew:       "NEW",
	StateChanged:   "CHANGED",
	StateUnchanged: "UNCHANGED",
	StateInQueue:   "INQUEUE",
	StateUploading: "UPLOADING",
	StateDone:      "DONE",
	StateDeleted:   "DELETED",
}

// transitions lists every allowed edge. Anything else is a programming error.
var transitions = map[State][]State{
	StateNew:       {StateChanged, StateUnchanged},
	StateChanged:   {StateChanged, StateUnchanged},
	StateUnchanged: {StateInQueue},
	StateInQueue:   {StateUploading, StateDone},
	StateUploading: {StateDone},
	StateDone:      {StateDeleted},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState maps a persisted state name back to its State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown state %q", ErrSerialization, name)
}

// MarshalText persists the state by name.
func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: unknown state %d", ErrSerialization, int(s))
	}
	return []byte(name), nil
}

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanTransition reports whether moving from one state to another is allowed.
// States only move forward; Deleted is terminal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ChecksumType identifies the checksum algorithm stored with items and chunks.
type ChecksumType int

const (
	ChecksumNone   ChecksumType = 0
	ChecksumSHA256 ChecksumType = 30
)

func (c ChecksumType) String() string {
	switch c {
	case ChecksumNone:
		return "NONE"
	case ChecksumSHA256:
		return "SHA256"
	default:
		return fmt.Sprintf("ChecksumType(%d)", int(c))
	}
}

// ParseChecksumType accepts the persisted name of a checksum type.
func ParseChecksumType(name string) (ChecksumType, error) {
	switch name {
	case "NONE":
		return ChecksumNone, nil
	case "SHA256":
		return ChecksumSHA256, nil
	default:
		return 0, fmt.Errorf("%w: unknown checksum type %q", ErrSerialization, name)
	}
}

func (c ChecksumType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ChecksumType) UnmarshalText(b []byte) error {
	parsed, err := ParseChecksumType(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// EncryptionType identifies how chunk bytes were transformed before upload.
type EncryptionType int

const (
	EncryptionNone             EncryptionType = 0
	EncryptionChaCha20Poly1305 EncryptionType = 10
)

func (e EncryptionType) String() string {
	switch e {
	case EncryptionNone:
		return "NONE"
	case EncryptionChaCha20Poly1305:
		return "ChaCha20Poly1305"
	default:
		return fmt.Sprintf("EncryptionType(%d)", int(e))
	}
}

// ParseEncryptionType accepts the persisted name of an encryption type.
// Matching is exact because recovery codes carry these names verbatim.
func ParseEncryptionType(name string) (EncryptionType, error) {
	switch name {
	case "NONE":
		return EncryptionNone, nil
	case "ChaCha20Poly1305":
		return EncryptionChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("%w: unknown encryption type %q", ErrSerialization, name)
	}
}

func (e EncryptionType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *EncryptionType) UnmarshalText(b []byte) error {
	parsed, err := ParseEncryptionType(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

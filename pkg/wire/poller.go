package wire

import "time"

// Interest is the set of readiness conditions a registration waits for.
type Interest uint8

const (
	WantRead Interest = 1 << iota
	WantWrite
)

func (i Interest) String() string {
	switch {
	case i&WantRead != 0 && i&WantWrite != 0:
		return "read|write"
	case i&WantRead != 0:
		return "read"
	case i&WantWrite != 0:
		return "write"
	}
	return "none"
}

// Readiness reports that a registered descriptor became ready.
type Readiness struct {
	FD       int
	Readable bool
	Writable bool
}

// Poller waits for OS readiness on registered descriptors.
//
// Poll is called from the transfer loop; Wake may be called from any
// goroutine and interrupts a blocked Poll.
type Poller interface {
	// Register starts watching fd for the given interest, replacing any
	// previous interest for that descriptor.
	Register(fd int, interest Interest) error

	// Deregister stops watching fd. Deregistering an unknown descriptor
	// is a no-op.
	Deregister(fd int) error

	// Poll blocks until at least one descriptor is ready, the timeout
	// expires, or Wake is called. A negative timeout blocks indefinitely.
	Poll(timeout time.Duration) ([]Readiness, error)

	// Wake interrupts a concurrent Poll, making it return early.
	Wake() error

	Close() error
}

package wiretest

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/luizaranda/courier/pkg/wire"
)

// Step is one scripted action of a fake exchange. Zero-value Kind with
// PullBody set drains the request body source instead of emitting an event.
type Step struct {
	Kind     wire.EventKind
	FD       int
	Data     []byte
	Code     wire.ErrorCode
	Err      error
	PullBody bool
}

// SendBody returns a step that pulls the exchange's request body to
// completion before the script continues.
func SendBody() Step {
	return Step{PullBody: true}
}

// NeedsRead returns a step that asks for read readiness on fd and blocks
// the script until it arrives.
func NeedsRead(fd int) Step {
	return Step{Kind: wire.EventNeedsRead, FD: fd}
}

// NeedsWrite returns a step that asks for write readiness on fd and blocks
// the script until it arrives.
func NeedsWrite(fd int) Step {
	return Step{Kind: wire.EventNeedsWrite, FD: fd}
}

// Head returns a step carrying a complete response head for the given
// status and headers, formatted the way it travels on the wire.
func Head(status int, header http.Header) Step {
	return Step{Kind: wire.EventHeaderData, Data: []byte(FormatHead(status, header))}
}

// HeadBytes returns a step carrying an arbitrary fragment of the response
// head, for tests that split or join header blocks.
func HeadBytes(s string) Step {
	return Step{Kind: wire.EventHeaderData, Data: []byte(s)}
}

// Body returns a step carrying one response body chunk.
func Body(data []byte) Step {
	return Step{Kind: wire.EventBodyData, Data: data}
}

// BodyString returns a step carrying one response body chunk.
func BodyString(s string) Step {
	return Step{Kind: wire.EventBodyData, Data: []byte(s)}
}

// Complete returns the step that finishes an exchange cleanly.
func Complete() Step {
	return Step{Kind: wire.EventComplete}
}

// Fail returns the step that finishes an exchange with an engine error.
func Fail(code wire.ErrorCode, err error) Step {
	return Step{Kind: wire.EventError, Code: code, Err: err}
}

// Respond builds the canonical happy-path script: drain the request body,
// deliver the head, then each body chunk, then completion. Scripts needing
// readiness blocking, interim 1xx blocks or early termination are assembled
// from the individual step constructors instead.
func Respond(status int, header http.Header, chunks ...string) []Step {
	steps := []Step{SendBody(), Head(status, header)}
	for _, c := range chunks {
		steps = append(steps, BodyString(c))
	}
	return append(steps, Complete())
}

// FormatHead renders a status line plus header block, CRLF line endings,
// terminated by the empty line. Headers are emitted in sorted order so
// scripts are deterministic.
func FormatHead(status int, header http.Header) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))

	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range header[name] {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}

	b.WriteString("\r\n")
	return b.String()
}

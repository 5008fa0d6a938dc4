package testutil

import (
	"bufio"
	"strings"
	"testing"

	"github.com/lumenchat/lumen/internal/stream"
)

// ParseStream decodes an SSE response body into typed events. Each frame
// is one "data: {json}" line followed by a blank line; frames with an
// unknown type decode to stream.Unknown and are kept so tests can assert
// forward compatibility.
func ParseStream(t *testing.T, body string) []stream.Event {
	t.Helper()

	var events []stream.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected SSE line: %q", line)
		}
		e, err := stream.DecodeJSON([]byte(payload))
		if err != nil {
			t.Fatalf("decoding SSE frame %q: %v", payload, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning SSE body: %v", err)
	}
	return events
}

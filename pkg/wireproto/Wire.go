package wireproto

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sirgallo/cmdcore/pkg/command"
)

//=========================================== Wire Protocol
//
// The line-oriented command/response format described in spec.md §6:
//
//	methodLine
//	Header: value
//	Header: value
//	<blank line>
//	optional body
//
// Shared by pkg/server (reads requests off client connections) and
// pkg/escalation (writes requests to, and reads responses from, the
// primary) — escalation is, from the primary's point of view, just
// another client request over the identical protocol (SPEC_FULL.md §4.7).

// EncodeRequest serializes a methodLine + headers in spec.md §6's format.
func EncodeRequest(methodLine string, headers map[string]string) []byte {
	var b strings.Builder
	b.WriteString(methodLine)
	b.WriteString("\n")

	for _, k := range sortedKeys(headers) {
		fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
	}
	b.WriteString("\n")

	return []byte(b.String())
}

// DecodeRequest reads a methodLine + headers from r, stopping at the blank
// line that terminates the header block.
func DecodeRequest(r io.Reader) (string, map[string]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", nil, err
		}
		return "", nil, io.EOF
	}
	methodLine := strings.TrimRight(scanner.Text(), "\r")

	headers := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	return methodLine, headers, scanner.Err()
}

// EncodeResponse serializes a status line, headers and body per spec.md
// §6. A nil response (the crash case) intentionally has no encoding —
// callers simply write nothing and close the connection.
func EncodeResponse(resp *command.Response) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s\n", resp.Code, resp.Reason)

	for _, k := range sortedKeys(resp.Headers) {
		fmt.Fprintf(&b, "%s: %s\n", k, resp.Headers[k])
	}
	b.WriteString("\n")
	b.WriteString(resp.Body)

	return []byte(b.String())
}

// DecodeResponse parses a status line + headers + body. Returns io.EOF if
// the connection was closed before writing anything — the wire signature
// of a crashed handler (spec.md §7 HandlerCrash, "empty response").
func DecodeResponse(r io.Reader) (*command.Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	statusLine := strings.TrimRight(scanner.Text(), "\r")
	code, reason, ok := strings.Cut(statusLine, " ")
	if !ok {
		return nil, fmt.Errorf("wireproto: malformed status line %q", statusLine)
	}

	codeNum, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("wireproto: malformed status code %q", code)
	}

	resp := command.NewResponse(codeNum, reason)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		resp.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	var body strings.Builder
	for scanner.Scan() {
		body.WriteString(scanner.Text())
		body.WriteString("\n")
	}
	resp.Body = strings.TrimSuffix(body.String(), "\n")

	return resp, scanner.Err()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

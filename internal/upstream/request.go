// Package upstream builds the HTTP/1.0 request the proxy sends to the
// origin server, grounded on the reference proxy's
// create_server_http_request and the teacher's header-rewriting logic in
// internal/proxy/reverse_proxy.go's Director.
package upstream

import (
	"fmt"
	"strings"
)

const userAgent = "User-Agent: Mozilla/5.0 (X11; Linux x86_64; rv:3.10.0) Gecko/20191101 Firefox/63.0.1\r\n"

// recognizedHeaders are matched by case-sensitive substring test against each raw
// header line, mirroring the reference proxy's strstr-based matching.
// Preserving this (rather than a stricter "key:" parse) keeps the proxy's
// observable behavior identical to the source it was distilled from.
var recognizedHeaders = []string{"Host", "Connection", "Proxy-Connection", "User-Agent"}

// Build assembles the complete upstream request as a single byte string.
//
//   - Request line: "GET <path> HTTP/1.0\r\n"
//   - Host header: copied verbatim from headerLines if present, otherwise
//     synthesized from host.
//   - Connection, Proxy-Connection, and User-Agent are always the fixed
//     values below, appended in that order right after Host.
//   - Every other header line from headerLines is appended verbatim, in
//     the order received.
//   - Terminated by a blank line.
//
// headerLines must each already include their trailing "\r\n" and must not
// include the terminating blank line.
func Build(host, path string, headerLines []string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", path)

	hostLine := findHeader(headerLines, "Host")
	if hostLine == "" {
		hostLine = fmt.Sprintf("Host: %s\r\n", host)
	}
	b.WriteString(hostLine)

	b.WriteString("Connection: close\r\n")
	b.WriteString("Proxy-Connection: close\r\n")
	b.WriteString(userAgent)

	for _, line := range headerLines {
		if isRecognized(line) {
			continue
		}
		b.WriteString(line)
	}

	b.WriteString("\r\n")

	return []byte(b.String())
}

func findHeader(headerLines []string, key string) string {
	for _, line := range headerLines {
		if strings.Contains(line, key) {
			return line
		}
	}
	return ""
}

func isRecognized(line string) bool {
	for _, key := range recognizedHeaders {
		if strings.Contains(line, key) {
			return true
		}
	}
	return false
}

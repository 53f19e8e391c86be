// Package httperr renders the fixed HTML error page the worker writes to
// a client before contacting any origin, grounded on the reference
// proxy's clienterror.
package httperr

import (
	"fmt"
	"io"
)

const bodyTemplate = "<!DOCTYPE html><html><head><title>Proxy Error</title></head>" +
	"<body bgcolor=\"ffffff\"><h1>%s: %s</h1><p>%s</p><hr /><em>The Web Proxy</em></body></html>"

// Write renders and writes an HTTP/1.0 error response to w: the status
// line, Content-Type, Content-Length, a blank line, and the fixed HTML
// body naming code, short, and long.
func Write(w io.Writer, code, short, long string) error {
	body := fmt.Sprintf(bodyTemplate, code, short, long)

	head := fmt.Sprintf(
		"HTTP/1.0 %s %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\n\r\n",
		code, short, len(body),
	)

	if _, err := io.WriteString(w, head); err != nil {
		return err
	}
	_, err := io.WriteString(w, body)
	return err
}

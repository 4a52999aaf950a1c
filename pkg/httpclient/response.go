package httpclient

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Response is a received HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Empty reports whether the response carried no body.
func (r *Response) Empty() bool {
	return len(strings.TrimSpace(r.Body)) == 0
}

// HeaderMap returns the headers keyed by lower-cased name with repeated
// values joined by ", ".
func (r *Response) HeaderMap() map[string]any {
	out := make(map[string]any, len(r.Header))
	for name, values := range r.Header {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// decodeBody converts body to UTF-8 using the charset in contentType.
// Unknown charsets leave the body untouched.
func decodeBody(body []byte, contentType string) string {
	if contentType == "" {
		return string(body)
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body)
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(body)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

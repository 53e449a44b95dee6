package models

import (
	"net/http"
	"sort"
	"time"
)

// Header is a single captured request header. Mutations keep headers as an
// ordered list so a replay sends them back exactly as they were captured.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueuedMutation is a write request captured after a failed live attempt and
// persisted for later replay. Replays always use POST.
type QueuedMutation struct {
	ID        int64     `json:"id"` // assigned by the store on insert
	URL       string    `json:"url"`
	Headers   []Header  `json:"headers"`
	Body      string    `json:"body"`
	RequestID string    `json:"request_id,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
}

// CaptureHeaders flattens an http.Header into the ordered form stored with a
// mutation. Names are sorted for a stable order since http.Header is a map;
// values of a repeated header keep their original order.
func CaptureHeaders(h http.Header) []Header {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]Header, 0, len(names))
	for _, name := range names {
		for _, v := range h[name] {
			headers = append(headers, Header{Name: name, Value: v})
		}
	}
	return headers
}

// HTTPHeader rebuilds an http.Header from the captured headers.
func (m *QueuedMutation) HTTPHeader() http.Header {
	h := make(http.Header, len(m.Headers))
	for _, hdr := range m.Headers {
		h[hdr.Name] = append(h[hdr.Name], hdr.Value)
	}
	return h
}

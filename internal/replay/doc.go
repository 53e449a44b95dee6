// Package replay makes food-log submissions survive network failures.
//
// Transport intercepts POST requests to the watched path prefix. When the
// network attempt fails the request is persisted and the caller receives a
// synthetic 202 {"queued":true} response. Drain later replays persisted
// requests oldest first, removing each one only after a 2xx response.
// Delivery is at-least-once: a replay whose response is lost is sent again on
// the next drain.
package replay

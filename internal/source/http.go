package source

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sells-group/sportsfeed/internal/fetcher"
	"github.com/sells-group/sportsfeed/internal/model"
)

// httpFailure classifies a fetcher error for quota accounting. A 4xx that
// carries usage headers was rejected by the provider and is not charged; a
// connection that never opened is not charged; anything else is unknown.
func httpFailure(name string, err error, usageOf func(http.Header) *model.Usage) *FetchError {
	if errors.Is(err, fetcher.ErrNotSent) {
		return Fail(name, NotCharged, nil, err)
	}
	var se *fetcher.StatusError
	if errors.As(err, &se) && se.Response != nil {
		var usage *model.Usage
		if usageOf != nil {
			usage = usageOf(se.Response.Header)
		}
		code := se.Response.StatusCode
		if code >= 400 && code < 500 && (usage != nil || usageOf == nil) {
			return Fail(name, NotCharged, usage, err)
		}
		return Fail(name, ChargeUnknown, usage, err)
	}
	if neverConnected(err) {
		return Fail(name, NotCharged, nil, err)
	}
	return Fail(name, ChargeUnknown, nil, err)
}

func neverConnected(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout()
}

// parseGameTime accepts RFC 3339 and the minute-precision form some feeds
// use ("2025-09-21T17:00Z").
func parseGameTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02T15:04Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

package mailapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"mailsweep/pkg/circuitbreaker"
)

// Kind separates failures the client may retry from those it must not.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers 5xx, network faults, per-call timeouts and an open breaker.
	KindTransient
	// KindQuota is a rate/quota rejection; it pauses every worker.
	KindQuota
	// KindPermanent is never retried (bad id, bad request, forbidden).
	KindPermanent
	// KindAuthExpired aborts the whole operation.
	KindAuthExpired
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindQuota:
		return "quota"
	case KindPermanent:
		return "permanent"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// Error is the classified form of a remote mail API failure.
type Error struct {
	Kind       Kind
	Op         string
	ID         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("mailapi ")
	b.WriteString(e.Op)
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuthExpired reports whether err (or anything it wraps) is an expired-credentials failure.
func IsAuthExpired(err error) bool {
	return KindOf(err) == KindAuthExpired
}

// IsNotFound reports whether err is the remote saying the message is gone.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// KindOf classifies err; an already classified *Error keeps its kind.
func KindOf(err error) Kind {
	_, k := Classify(err)
	return k
}

// Classify determines whether err is retryable and which kind it is.
func Classify(err error) (bool, Kind) {
	if err == nil {
		return false, KindUnknown
	}

	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return retryable(e.Kind), e.Kind
	}

	// expired/revoked refresh token surfaces as a RetrieveError inside a url.Error
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return false, KindAuthExpired
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		k := kindFromStatus(gerr)
		return retryable(k), k
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, KindTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return false, KindPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, KindTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true, KindTransient
	}

	return false, KindPermanent
}

func retryable(k Kind) bool {
	return k == KindTransient || k == KindQuota
}

func kindFromStatus(gerr *googleapi.Error) Kind {
	switch {
	case gerr.Code == 401:
		return KindAuthExpired
	case gerr.Code == 429:
		return KindQuota
	case gerr.Code == 403 && hasRateLimitReason(gerr):
		return KindQuota
	case gerr.Code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

func hasRateLimitReason(gerr *googleapi.Error) bool {
	for _, it := range gerr.Errors {
		switch it.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(gerr.Message), "rate limit")
}

// RetryAfter extracts the server-requested pause from err, 0 when absent.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Header != nil {
		v := gerr.Header.Get("Retry-After")
		if v == "" {
			return 0
		}
		if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, perr := time.Parse(time.RFC1123, v); perr == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}
	return 0
}

// wrap attaches op/id context to err, preserving an existing classification.
func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	_, k := Classify(err)
	return &Error{Kind: k, Op: op, ID: id, RetryAfter: RetryAfter(err), Err: err}
}

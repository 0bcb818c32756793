package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"deskhooks/internal/buildinfo"
	"deskhooks/internal/model"
)

const (
	DefaultTimeout = 10 * time.Second
	// maxErrorBody bounds how much of a failed response is kept in the ledger.
	maxErrorBody = 256
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is one outbound attempt. Body must be the canonical payload that
// Signature was computed over.
type Request struct {
	URL       string
	EventType model.EventType
	Timestamp int64
	Attempt   int
	Body      []byte
	Signature string
}

// Executor performs a single bounded HTTP POST and classifies the result.
// It never writes anywhere.
type Executor struct {
	HTTP      HTTPDoer
	Timeout   time.Duration
	UserAgent string
}

// NewHTTPClient returns the client used for deliveries. Redirects are never
// followed: a 3xx is the registered endpoint's answer and counts as a failure,
// and the signed body is not re-sent to a host that was not validated.
func NewHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

func NewExecutor(doer HTTPDoer, timeout time.Duration) *Executor {
	if doer == nil {
		doer = NewHTTPClient()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{HTTP: doer, Timeout: timeout, UserAgent: buildinfo.UserAgent()}
}

func (e *Executor) Execute(ctx context.Context, r Request) model.Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return model.Outcome{Error: err.Error(), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set(HeaderSignature, r.Signature)
	req.Header.Set(HeaderEvent, string(r.EventType))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(r.Timestamp, 10))
	if r.Attempt > 0 {
		req.Header.Set(HeaderAttempt, strconv.Itoa(r.Attempt))
	}

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return model.Outcome{Error: err.Error(), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	out := model.Outcome{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
	} else {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		out.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, snippet)
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	out.Duration = time.Since(start)
	return out
}

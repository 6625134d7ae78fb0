package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service"
)

// classify maps transport and API failures onto domain errors so the retry
// policy can tell transient failures from permanent ones.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout("reasoning call timed out").WithCause(err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("reasoning engine returned HTTP %d", apiErr.StatusCode)
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			derr := core.ErrRateLimit(msg).WithCause(err)
			if wait, ok := retryAfter(apiErr.Response); ok {
				derr.WithDetail(service.DetailRetryAfter, wait)
			}
			return derr
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return core.ErrAuth(msg).WithCause(err)
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return core.ErrTimeout(msg).WithCause(err)
		case apiErr.StatusCode >= 500:
			return core.ErrNetwork(msg).WithCause(err)
		default:
			derr := core.ErrExecution(core.CodeReasoningFailed, msg).WithCause(err)
			derr.Retryable = false
			return derr
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.ErrTimeout("reasoning call timed out").WithCause(err)
		}
		return core.ErrNetwork("reasoning engine unreachable").WithCause(err)
	}
	return core.ErrExecution(core.CodeReasoningFailed, "reasoning call failed").WithCause(err)
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

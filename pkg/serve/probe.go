package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrNotTestMode means the application under test refused the probe.
var ErrNotTestMode = errors.New("not running in test mode")

// Prober reports whether the application under test runs in test mode. It
// returns ErrNotTestMode for a clear refusal and any other error when the
// answer is unknown.
type Prober func(ctx context.Context) error

// HTTPProbe fetches url; a 2xx answer means test mode.
func HTTPProbe(url string) Prober {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return func(ctx context.Context) error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return ErrNotTestMode
		}
		return nil
	}
}

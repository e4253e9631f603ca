package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rohitwanchoo/lsc-marketing-sub000/internal/domain"
)

// HTTPAnalyzer delegates significance analysis to a remote analytical
// service. Any transport or decode failure yields Available=false so the
// resolver leaves the experiment running and retries next sweep.
type HTTPAnalyzer struct {
	url    string
	client *http.Client
}

func NewHTTPAnalyzer(url string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, c Counts) (Result, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return Result{}, fmt.Errorf("marshal counts: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build analytics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{Available: false}, &domain.AnalyticsUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Available: false}, &domain.AnalyticsUnavailableError{
			Cause: fmt.Errorf("analytics service returned %d", resp.StatusCode),
		}
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{Available: false}, &domain.AnalyticsUnavailableError{Cause: err}
	}
	// The remote can answer 200 with available=false (e.g. warming up or
	// degraded); that is not a verdict and must not reach the resolver as one.
	if !res.Available {
		return res, &domain.AnalyticsUnavailableError{
			Cause: fmt.Errorf("analytics service reported unavailable"),
		}
	}
	return res, nil
}

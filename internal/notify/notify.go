package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

// Summary renders the end-of-run message: cycles per outcome and packets captured.
func Summary(runID string, results []types.CycleResult) string {
	var completed, partial, failed int
	var packets int64
	var items, failedItems int
	for _, r := range results {
		switch r.Outcome {
		case types.OutcomeCompleted:
			completed++
		case types.OutcomePartialFailure:
			partial++
		case types.OutcomeFailed:
			failed++
		}
		packets += r.PacketsCaptured
		items += r.ItemsRequested
		failedItems += r.ItemsFailed
	}
	return fmt.Sprintf("Capture run %s finished: %d cycles (%d completed, %d partial, %d failed), %d packets captured, %d of %d items failed.",
		runID, len(results), completed, partial, failed, packets, failedItems, items)
}

// SendSummary posts Summary to the endpoint.
func SendSummary(ctx context.Context, client *http.Client, endpoint, runID string, results []types.CycleResult) error {
	return Send(ctx, client, endpoint, Summary(runID, results))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

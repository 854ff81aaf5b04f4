package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vnmchuo/visionq/internal/client"
	"github.com/vnmchuo/visionq/internal/job"
)

const defaultTestImage = "https://raw.githubusercontent.com/ultralytics/yolov5/master/data/images/zidane.jpg"

var (
	stAPIURL   string
	stImageURL string
	stPrompt   string
	stInterval time.Duration
	stAttempts int
)

var systemtestCmd = &cobra.Command{
	Use:   "systemtest",
	Short: "Submit a job to a running deployment and wait for its result",
	Long: `Check a running deployment end to end: wait for /health, submit an image
job, poll until a worker has described it, confirm the audit record was
written, then delete the result.

Examples:
  visionq systemtest
  visionq systemtest --api-url http://uploader:8000 --attempts 30`,
	RunE: runSystemtest,
}

func init() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8000"
	}
	systemtestCmd.Flags().StringVar(&stAPIURL, "api-url", apiURL, "base URL of the API (API_URL)")
	systemtestCmd.Flags().StringVar(&stImageURL, "image-url", defaultTestImage, "image to describe")
	systemtestCmd.Flags().StringVar(&stPrompt, "prompt", "", "text prompt (server default when empty)")
	systemtestCmd.Flags().DurationVar(&stInterval, "interval", 2*time.Second, "poll interval")
	systemtestCmd.Flags().IntVar(&stAttempts, "attempts", 15, "poll attempts before giving up")
}

func runSystemtest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	c := client.New(stAPIURL, client.WithPolling(stInterval, stAttempts))
	runID := uuid.New().String()

	fmt.Fprintf(out, "[Setup] Connecting to API at %s (run %s)...\n", stAPIURL, runID)
	if err := waitHealthy(ctx, c, 5, 2*time.Second); err != nil {
		return fmt.Errorf("API is not reachable at %s: %w", stAPIURL, err)
	}

	fmt.Fprintln(out, "[Step 1] Submitting task...")
	receipt, err := c.Submit(ctx, job.Request{ImageURL: stImageURL, TextPrompt: stPrompt})
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	if receipt.Status != job.StatusQueued {
		return fmt.Errorf("expected status %q, got %q", job.StatusQueued, receipt.Status)
	}
	fmt.Fprintf(out, "   -> Task queued. Record ID: %d\n", receipt.RecordID)

	fmt.Fprintln(out, "[Step 2] Waiting for worker...")
	res, err := c.Poll(ctx, receipt.RecordID)
	if err != nil {
		return fmt.Errorf("worker did not process record %d: %w", receipt.RecordID, err)
	}
	fmt.Fprintf(out, "   -> Output: %s\n", truncate(res.Description, 50))

	fmt.Fprintln(out, "[Step 3] Checking audit record...")
	rec, err := c.Record(ctx, receipt.RecordID)
	if err != nil {
		return fmt.Errorf("audit lookup failed: %w", err)
	}
	if rec.Pending(job.ProcessingSentinel) {
		return fmt.Errorf("audit record %d still pending after the result was published", receipt.RecordID)
	}
	fmt.Fprintln(out, "   -> OK")

	fmt.Fprintln(out, "[Step 4] Cleaning up...")
	if err := c.Delete(ctx, receipt.RecordID); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintln(out, "   -> OK")
	return nil
}

func waitHealthy(ctx context.Context, c *client.Client, attempts int, wait time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.Health(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

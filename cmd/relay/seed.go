package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/webhook-relay/internal/handlers"
	"github.com/telhawk-systems/webhook-relay/internal/service"
	"github.com/telhawk-systems/webhook-relay/internal/transform"
)

var (
	seedURL     string
	seedClient  string
	seedSource  string
	seedSecret  string
	seedCount   int
	seedSeed    int64
	seedTimeout time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send signed sample webhooks",
	Long: `Generate property-management webhooks with fake data, sign them and POST them
to a running relay.

Examples:
  relay seed --client acme --secret s3cret --count 50
  relay seed --url http://relay:8080 --source propertysysB --count 5`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedURL, "url", "http://localhost:8080", "relay base URL")
	seedCmd.Flags().StringVar(&seedClient, "client", "demo", "client id")
	seedCmd.Flags().StringVar(&seedSource, "source", transform.PropertySystemA, "source system")
	seedCmd.Flags().StringVar(&seedSecret, "secret", "", "signing secret")
	seedCmd.Flags().IntVar(&seedCount, "count", 10, "number of webhooks to send")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "faker seed (0 = random)")
	seedCmd.Flags().DurationVar(&seedTimeout, "timeout", 10*time.Second, "per-request timeout")
	_ = seedCmd.MarkFlagRequired("secret")
	rootCmd.AddCommand(seedCmd)
}

// sampleProperty builds a propertysysA-shaped payload.
func sampleProperty(f *gofakeit.Faker) map[string]any {
	return map[string]any{
		"unit_id":      fmt.Sprintf("bldg-%s-unit-%s", f.Numerify("##"), f.Numerify("###")),
		"tenant_name":  f.Name(),
		"lease_start":  f.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()).Format("2006-01-02"),
		"monthly_rent": f.Price(500, 5000),
		"email":        f.Email(),
	}
}

type seedResult struct {
	Created    int
	Duplicates int
	Failed     int
}

// sendSigned POSTs one signed payload and returns the HTTP status.
func sendSigned(ctx context.Context, client *http.Client, endpoint, secret string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.SignatureHeader, service.Sign(secret, body))

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func seedWebhooks(ctx context.Context, out io.Writer, f *gofakeit.Faker, client *http.Client, baseURL, clientID, source, secret string, count int) (seedResult, error) {
	endpoint, err := url.JoinPath(baseURL, "webhooks", clientID, source)
	if err != nil {
		return seedResult{}, fmt.Errorf("invalid url: %w", err)
	}

	var res seedResult
	for i := 0; i < count; i++ {
		body, err := json.Marshal(sampleProperty(f))
		if err != nil {
			return res, err
		}
		status, err := sendSigned(ctx, client, endpoint, secret, body)
		switch {
		case err != nil:
			res.Failed++
			fmt.Fprintf(out, "webhook %d: %v\n", i+1, err)
		case status == http.StatusCreated:
			res.Created++
		case status == http.StatusOK:
			res.Duplicates++
		default:
			res.Failed++
			fmt.Fprintf(out, "webhook %d: HTTP %d\n", i+1, status)
		}
	}
	return res, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	f := gofakeit.New(seedSeed)
	client := &http.Client{Timeout: seedTimeout}

	res, err := seedWebhooks(cmd.Context(), cmd.OutOrStdout(), f, client, seedURL, seedClient, seedSource, seedSecret, seedCount)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d webhooks: %d created, %d duplicate, %d failed\n",
		seedCount, res.Created, res.Duplicates, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d webhooks failed", res.Failed)
	}
	return nil
}

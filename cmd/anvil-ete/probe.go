// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// UnexpectedStatusError is returned by probe when the target never
// answered with the expected status.
type UnexpectedStatusError struct {
	URL    string
	Status int
}

// Error implements the error interface.
func (e UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status from %s: %d", e.URL, e.Status)
}

type probeOptions struct {
	url      string
	status   int
	retries  int
	waitMin  time.Duration
	waitMax  time.Duration
	timeout  time.Duration
	insecure bool
}

func newProbeCmd() *cobra.Command {
	o := &probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Poll a running server until it answers with the expected status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return probe(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.url, "url", "https://127.0.0.1:8443/status/readiness", "url to poll")
	fs.IntVar(&o.status, "status", http.StatusOK, "status code that ends polling")
	fs.IntVar(&o.retries, "retries", 10, "maximum number of retries")
	fs.DurationVar(&o.waitMin, "wait-min", 100*time.Millisecond, "minimum wait between attempts")
	fs.DurationVar(&o.waitMax, "wait-max", 2*time.Second, "maximum wait between attempts")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Second, "per attempt timeout")
	fs.BoolVar(&o.insecure, "insecure", false, "skip server certificate verification")
	return cmd
}

func newProbeClient(o *probeOptions) *retryablehttp.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if o.insecure {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(base),
		Timeout:   o.timeout,
	}
	c.RetryMax = o.retries
	c.RetryWaitMin = o.waitMin
	c.RetryWaitMax = o.waitMax
	c.Logger = nil
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return resp.StatusCode != o.status, nil
	}
	// The last response is still wanted when retries run out.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

func probe(ctx context.Context, out io.Writer, o *probeOptions) error {
	c := newProbeClient(o)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != o.status {
		return UnexpectedStatusError{URL: o.url, Status: resp.StatusCode}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d %s\n", resp.StatusCode, b)
	return err
}

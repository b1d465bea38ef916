package network

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// FetchSource downloads a remote payload to dest.
func FetchSource(ctx context.Context, url, dest string, logger log.Logger) error {
	if url == "" {
		return fmt.Errorf("source URL is empty")
	}

	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = customRetryFunction

	logger.Debugf("Downloading %s to %s", url, dest)
	if err := downloadFile(ctx, retryableHTTPClient.StandardClient(), url, dest); err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	return nil
}

// customRetryFunction retries every failed request, including ones with a non-retryable status.
func customRetryFunction(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func downloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}

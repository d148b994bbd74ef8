package modelcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"

	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/reliability"
)

// ProgressFunc reports bytes written for the file currently
// downloading, independent of which URL served them.
type ProgressFunc func(writtenDelta int64)

// downloadFile fetches one manifest file into destPath, trying each
// URL in order and resuming from destPath's existing size via HTTP
// Range (or S3 GetObject's Range parameter). Each URL gets its own
// bounded exponential-backoff retry budget (§4.9 step 3a); moving to
// the next URL happens once that budget is exhausted, or at once on a
// non-retryable failure such as an HTTP 404.
func downloadFile(ctx context.Context, urls []string, destPath string, onProgress ProgressFunc) error {
	var lastErr error
	for _, rawURL := range urls {
		err := downloadFromURLWithRetry(ctx, rawURL, destPath, onProgress)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return protocol.NewError(protocol.KindNetwork, fmt.Sprintf("all mirrors exhausted: %v", lastErr), nil)
}

func downloadFromURLWithRetry(ctx context.Context, rawURL, destPath string, onProgress ProgressFunc) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptErr := downloadOnce(ctx, rawURL, destPath, onProgress)
		if attemptErr == nil {
			return struct{}{}, nil
		}
		if !isRetryable(attemptErr) {
			return struct{}{}, backoff.Permanent(attemptErr)
		}
		return struct{}{}, attemptErr
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	return err
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if se, ok := err.(*httpStatusError); ok {
		statusErr = se
		return reliability.IsRetryableHTTPStatus(statusErr.code)
	}
	// Network-level errors (timeouts, connection resets) are always
	// worth retrying within a URL's backoff budget.
	return true
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("unexpected HTTP status %d", e.code) }

func downloadOnce(ctx context.Context, rawURL, destPath string, onProgress ProgressFunc) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "s3" {
		return downloadFromS3(ctx, u, destPath, onProgress)
	}
	return downloadFromHTTP(ctx, rawURL, destPath, onProgress)
}

// resumeOffset returns the size of a partially-downloaded file, or 0
// if it doesn't exist yet.
func resumeOffset(destPath string) int64 {
	info, err := os.Stat(destPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

func downloadFromHTTP(ctx context.Context, rawURL, destPath string, onProgress ProgressFunc) error {
	offset := resumeOffset(destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the Range request; start the file over.
		offset = 0
	case http.StatusPartialContent:
		// Resuming as requested.
	default:
		return &httpStatusError{code: resp.StatusCode}
	}

	return appendToFile(destPath, offset, resp.Body, onProgress)
}

func downloadFromS3(ctx context.Context, u *url.URL, destPath string, onProgress ProgressFunc) error {
	offset := resumeOffset(destPath)

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	input := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := client.GetObject(ctx, input)
	if err != nil {
		return err
	}
	defer out.Body.Close()

	return appendToFile(destPath, offset, out.Body, onProgress)
}

func appendToFile(destPath string, offset int64, body io.Reader, onProgress ProgressFunc) error {
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if offset == 0 {
		if err := f.Truncate(0); err != nil {
			return err
		}
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, 256*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if onProgress != nil {
				onProgress(int64(n))
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// progressInterval is the minimum spacing between emitted
// event.model_progress notifications, so a fast local mirror doesn't
// flood the host with one event per read buffer.
const progressInterval = 250 * time.Millisecond

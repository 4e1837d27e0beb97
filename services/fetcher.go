package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"image-search-platform/utils"
)

// Fetcher retrieves raw bytes for one source reference.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// ImageFetcher downloads an image over HTTP with a bounded timeout and
// validates the response content type. It does not retry; retries, if any,
// are composed by the caller.
type ImageFetcher struct {
	client       *http.Client
	maxBodySize  int64
	allowedTypes []string
}

func NewImageFetcher(timeout time.Duration, maxBodySize int64, allowedTypes []string) *ImageFetcher {
	return &ImageFetcher{
		client:       &http.Client{Timeout: timeout},
		maxBodySize:  maxBodySize,
		allowedTypes: allowedTypes,
	}
}

func (f *ImageFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	if _, err := url.ParseRequestURI(sourceURL); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed source URL %q", sourceURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: sourceURL, Status: resp.StatusCode}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !utils.IsValidImageType(ct, f.allowedTypes) {
		return nil, &FetchError{URL: sourceURL, Err: fmt.Errorf("unexpected content type %q", ct)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, &FetchError{URL: sourceURL, Err: err}
	}
	if int64(len(data)) > f.maxBodySize {
		return nil, &FetchError{URL: sourceURL, Err: fmt.Errorf("body exceeds %d bytes", f.maxBodySize)}
	}
	if len(data) == 0 {
		return nil, &FetchError{URL: sourceURL, Err: fmt.Errorf("empty response body")}
	}

	return data, nil
}

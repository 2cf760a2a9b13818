// Package resty is the default transport.Client, built on
// go-resty/resty/v2, speaking the wire protocol in internal/protocol
// with the same initiate/send-chunk/complete sequence on the client
// side.
package resty

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/arvensis/blobtransfer/internal/protocol"
	"github.com/arvensis/blobtransfer/internal/transport"
	"github.com/arvensis/blobtransfer/internal/txerr"
)

// Client is a transport.Client backed by a shared resty.Client.
type Client struct {
	rc *resty.Client
}

var _ transport.Client = (*Client)(nil)

// New builds a Client with the given request timeout.
func New(timeout time.Duration) *Client {
	rc := resty.New().SetTimeout(timeout)
	return &Client{rc: rc}
}

// NewFromRestoration constructs a Client from a restoration token the
// way the manager's delegate hands back a live HTTP client by
// clientRestorationId: bearer auth plus the shared timeout.
func NewFromRestoration(bearerToken string, timeout time.Duration) *Client {
	rc := resty.New().SetTimeout(timeout).SetAuthToken(bearerToken)
	return &Client{rc: rc}
}

func (c *Client) Probe(ctx context.Context, source string) (transport.ProbeResult, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Range", "bytes=0-0").
		Get(source)
	if err != nil {
		return transport.ProbeResult{}, errors.Wrap(err, "resty: probe")
	}
	if resp.StatusCode() != http.StatusPartialContent && resp.StatusCode() != http.StatusOK {
		return transport.ProbeResult{}, statusError(resp)
	}

	total := resp.RawResponse.ContentLength
	if cr := resp.Header().Get("Content-Range"); cr != "" {
		if n, ok := parseContentRangeTotal(cr); ok {
			total = n
		}
	}
	return transport.ProbeResult{
		TotalSize:   total,
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

func (c *Client) DownloadRange(ctx context.Context, source string, start, end int64) (io.ReadCloser, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Range", fmt.Sprintf("bytes=%d-%d", start, end-1)).
		Get(source)
	if err != nil {
		return nil, errors.Wrap(err, "resty: download range")
	}
	raw := resp.RawResponse
	if raw.StatusCode != http.StatusPartialContent && raw.StatusCode != http.StatusOK {
		defer raw.Body.Close()
		return nil, statusErrorFromRaw(raw)
	}
	return raw.Body, nil
}

func (c *Client) BeginUpload(ctx context.Context, destination, contentType string, totalSize int64, blockCount int) error {
	req := protocol.InitiateUploadRequest{
		ContentType: contentType,
		TotalSize:   totalSize,
		BlockCount:  blockCount,
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		Post(destination + protocol.BasePath + "/initiate")
	if err != nil {
		return errors.Wrap(err, "resty: begin upload")
	}
	if resp.StatusCode() != http.StatusCreated {
		return statusError(resp)
	}
	return nil
}

func (c *Client) PutBlock(ctx context.Context, destination, blockID string, data io.Reader, size int64) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return errors.Wrap(err, "resty: read block body")
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("X-Block-Id", blockID).
		SetBody(body).
		Post(fmt.Sprintf("%s%s/block/%s", destination, protocol.BasePath, blockID))
	if err != nil {
		return errors.Wrap(err, "resty: put block")
	}
	if resp.StatusCode() != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *Client) CommitBlockList(ctx context.Context, destination string, blockIDsInOrder []string) error {
	req := protocol.CommitBlockListRequest{BlockIDs: blockIDsInOrder}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		Post(destination + protocol.BasePath + "/commit")
	if err != nil {
		return errors.Wrap(err, "resty: commit block list")
	}
	if resp.StatusCode() != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// statusError tags the failure with its HTTP status code so the
// retry policy in internal/blobmgr can classify it via
// txerr.IsRetryable without re-parsing the response.
func statusError(resp *resty.Response) error {
	status := resp.StatusCode()
	return txerr.NewTransportStatus(status, errors.Errorf("resty: unexpected status %d: %s", status, string(resp.Body())))
}

func statusErrorFromRaw(resp *http.Response) error {
	return txerr.NewTransportStatus(resp.StatusCode, errors.Errorf("resty: unexpected status %d", resp.StatusCode))
}

// parseContentRangeTotal extracts the total size from a
// "bytes start-end/total" Content-Range header value.
func parseContentRangeTotal(headerValue string) (int64, bool) {
	var start, end, total int64
	n, err := fmt.Sscanf(headerValue, "bytes %d-%d/%d", &start, &end, &total)
	if err != nil || n != 3 {
		return 0, false
	}
	return total, true
}

// Package s3 is the optional S3-backed transport.Client, grounded on
// input-output-hk-catalyst-forge-libs/aws/s3's client construction
// style (config.LoadDefaultConfig, functional Option values) adapted
// from its high-level Client wrapper to the narrower operation set
// this module's protocol needs: HeadObject for probing, ranged
// GetObject for downloads, and the CreateMultipartUpload / UploadPart
// / CompleteMultipartUpload trio for uploads.
//
// destination/source strings are "s3://bucket/key" URIs.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/arvensis/blobtransfer/internal/transport"
)

// Option configures a Client, the same functional-option shape the
// pack's aws/s3 client uses.
type Option func(*options)

type options struct {
	region  string
	retries int
}

func WithRegion(region string) Option { return func(o *options) { o.region = region } }
func WithMaxRetries(n int) Option     { return func(o *options) { o.retries = n } }

// Client is a transport.Client backed by the AWS SDK's S3 client.
type Client struct {
	api *s3.Client

	mu       sync.Mutex
	sessions map[string]*multipartSession // destination -> in-progress upload
}

var _ transport.Client = (*Client)(nil)

type multipartSession struct {
	uploadID string
	bucket   string
	key      string
	parts    map[string]types.CompletedPart // blockID -> part
}

// New loads AWS configuration via the default credential chain, the
// way s3.New does, and applies opts.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := &options{retries: 3}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "s3: load default config")
	}
	if o.region != "" {
		cfg.Region = o.region
	} else if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if o.retries > 0 {
		cfg.RetryMaxAttempts = o.retries
	}

	return &Client{
		api:      s3.NewFromConfig(cfg),
		sessions: make(map[string]*multipartSession),
	}, nil
}

func parseURI(uri string) (bucket, key string, err error) {
	const prefix = "s3://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", errors.Errorf("s3: %q is not an s3:// uri", uri)
	}
	trimmed := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("s3: %q is missing a bucket or key", uri)
	}
	return parts[0], parts[1], nil
}

// isNotFound recognizes the AWS API error codes S3 returns for a
// missing key, via the generic smithy.APIError interface rather than
// the NotFound/NoSuchKey concrete types so it also catches the plain
// "NotFound" HeadObject returns.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	default:
		return false
	}
}

func (c *Client) Probe(ctx context.Context, source string) (transport.ProbeResult, error) {
	bucket, key, err := parseURI(source)
	if err != nil {
		return transport.ProbeResult{}, err
	}
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return transport.ProbeResult{}, errors.Errorf("s3: %s/%s does not exist", bucket, key)
		}
		return transport.ProbeResult{}, errors.Wrap(err, "s3: head object")
	}
	result := transport.ProbeResult{}
	if out.ContentLength != nil {
		result.TotalSize = *out.ContentLength
	}
	if out.ContentType != nil {
		result.ContentType = *out.ContentType
	}
	return result, nil
}

func (c *Client) DownloadRange(ctx context.Context, source string, start, end int64) (io.ReadCloser, error) {
	bucket, key, err := parseURI(source)
	if err != nil {
		return nil, err
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "s3: get object")
	}
	return out.Body, nil
}

func (c *Client) BeginUpload(ctx context.Context, destination, contentType string, totalSize int64, blockCount int) error {
	bucket, key, err := parseURI(destination)
	if err != nil {
		return err
	}
	input := &s3.CreateMultipartUploadInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	out, err := c.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return errors.Wrap(err, "s3: create multipart upload")
	}

	c.mu.Lock()
	c.sessions[destination] = &multipartSession{
		uploadID: aws.ToString(out.UploadId),
		bucket:   bucket,
		key:      key,
		parts:    make(map[string]types.CompletedPart),
	}
	c.mu.Unlock()
	return nil
}

// PutBlock uploads one part. blockID must be the zero-based decimal
// block index; S3 part numbers are 1-based, so partNumber = blockID+1.
func (c *Client) PutBlock(ctx context.Context, destination, blockID string, data io.Reader, size int64) error {
	c.mu.Lock()
	sess, ok := c.sessions[destination]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("s3: no multipart session for %q; call BeginUpload first", destination)
	}

	index, err := strconv.Atoi(blockID)
	if err != nil {
		return errors.Wrapf(err, "s3: block id %q is not a part index", blockID)
	}
	partNumber := int32(index + 1)

	body, err := io.ReadAll(data)
	if err != nil {
		return errors.Wrap(err, "s3: read block body")
	}

	out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(sess.bucket),
		Key:        aws.String(sess.key),
		UploadId:   aws.String(sess.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       strings.NewReader(string(body)),
	})
	if err != nil {
		return errors.Wrap(err, "s3: upload part")
	}

	c.mu.Lock()
	sess.parts[blockID] = types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)}
	c.mu.Unlock()
	return nil
}

func (c *Client) CommitBlockList(ctx context.Context, destination string, blockIDsInOrder []string) error {
	c.mu.Lock()
	sess, ok := c.sessions[destination]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("s3: no multipart session for %q", destination)
	}

	completed := make([]types.CompletedPart, 0, len(blockIDsInOrder))
	for _, id := range blockIDsInOrder {
		part, ok := sess.parts[id]
		if !ok {
			return errors.Errorf("s3: block %q was never uploaded", id)
		}
		completed = append(completed, part)
	}

	_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(sess.bucket),
		Key:             aws.String(sess.key),
		UploadId:        aws.String(sess.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return errors.Wrap(err, "s3: complete multipart upload")
	}

	c.mu.Lock()
	delete(c.sessions, destination)
	c.mu.Unlock()
	return nil
}

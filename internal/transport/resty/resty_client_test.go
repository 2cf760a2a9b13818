package resty_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arvensis/blobtransfer/internal/transport/faketransport"
	restyclient "github.com/arvensis/blobtransfer/internal/transport/resty"
)

func TestProbeAndDownloadRange(t *testing.T) {
	fake := faketransport.New()
	content := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(fake)
	defer srv.Close()

	fake.SetObject("/objects/a.bin", content)

	c := restyclient.New(5 * time.Second)
	result, err := c.Probe(context.Background(), srv.URL+"/objects/a.bin")
	require.NoError(t, err)
	require.EqualValues(t, len(content), result.TotalSize)

	body, err := c.DownloadRange(context.Background(), srv.URL+"/objects/a.bin", 4, 9)
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "quick", string(got))
}

func TestUploadBeginPutCommitRoundTrip(t *testing.T) {
	fake := faketransport.New()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := restyclient.New(5 * time.Second)
	dest := srv.URL + "/objects/upload-1"

	require.NoError(t, c.BeginUpload(context.Background(), dest, "application/octet-stream", 10, 2))
	require.NoError(t, c.PutBlock(context.Background(), dest, "0", strings.NewReader("hello "), 6))
	require.NoError(t, c.PutBlock(context.Background(), dest, "1", strings.NewReader("world"), 5))
	require.NoError(t, c.CommitBlockList(context.Background(), dest, []string{"0", "1"}))

	got := fake.Uploaded("/objects/upload-1", []string{"0", "1"})
	require.Equal(t, "hello world", string(got))
}

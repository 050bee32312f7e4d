// Package azblob is the Blob Downloader's external collaborator named in
// section 6 ("the Azure SDK wrapper itself" is out of scope by interface
// only): a narrow Client contract plus a real Azure Blob Storage
// implementation, grounded on restic's internal/backend/azure package's use
// of azidentity/azblob/azblob-container client construction.
package azblob

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	azsdk "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Object is one listed archive entry: the blob name and its size, matching
// the (archive_key, size_bytes) half of section 4.4's input tuple.
type Object struct {
	Name      string
	SizeBytes int64
}

// Client is the interface the Bucketeer's archive listing and the Blob
// Downloader depend on. It is intentionally narrow, in the teacher's style
// of accepting the smallest collaborator interface a component needs
// (compare aws.S3Client / aws.DynamoDBClient).
type Client interface {
	// ListContainers enumerates every container visible to the account,
	// the archive-discovery half of the Bucketeer's input feed (section
	// 4.4's candidates are gathered per-container, filtered by
	// --container_search_list/--container_ignore_list before listing).
	ListContainers(ctx context.Context) ([]string, error)
	// ListBlobs enumerates every blob in container, optionally restricted
	// to keys with the given prefix.
	ListBlobs(ctx context.Context, container, prefix string) ([]Object, error)
	// DownloadStream streams blobName's bytes from container into dest,
	// returning the number of bytes written. concurrency is the Blob
	// Downloader's per-object connection count (section 4.6 step 2); it is
	// honored whenever dest is a concurrently writable *os.File and ignored
	// for a plain io.Writer, which cannot support ranged parallel writes.
	DownloadStream(ctx context.Context, container, blobName string, dest io.Writer, concurrency int) (int64, error)
}

// azureClient implements Client over the Azure SDK's *azsdk.Client. Tests
// fake the Client interface above rather than this type.
type azureClient struct {
	svc *azsdk.Client
}

// var _ Client = (*azureClient)(nil) documents the intended implementation
// at compile time, matching the teacher's aws/implementations.go pattern.
var _ Client = (*azureClient)(nil)

// NewFromConnectionString builds a Client from a storage account connection
// string, the form `--connect_string` takes in section 6 when using account
// key authentication.
func NewFromConnectionString(connectionString string) (Client, error) {
	svc, err := azsdk.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("azblob: failed to build client from connection string: %w", err)
	}
	return &azureClient{svc: svc}, nil
}

// NewFromServiceURL builds a Client against serviceURL using
// DefaultAzureCredential, for deployments that authenticate via managed
// identity rather than an account key embedded in `--connect_string`.
func NewFromServiceURL(serviceURL string) (Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azblob: failed to obtain default credential: %w", err)
	}
	svc, err := azsdk.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azblob: failed to build client for %s: %w", serviceURL, err)
	}
	return &azureClient{svc: svc}, nil
}

// ListContainers implements Client.
func (c *azureClient) ListContainers(ctx context.Context) ([]string, error) {
	var names []string
	pager := c.svc.NewListContainersPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azblob: failed to list containers: %w", err)
		}
		for _, item := range page.ContainerItems {
			if item.Name == nil {
				continue
			}
			names = append(names, *item.Name)
		}
	}
	return names, nil
}

// ListBlobs implements Client.
func (c *azureClient) ListBlobs(ctx context.Context, container, prefix string) ([]Object, error) {
	var objects []Object
	pager := c.svc.NewListBlobsFlatPager(container, &azsdk.ListBlobsFlatOptions{
		Prefix: optionalString(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azblob: failed to list blobs in container %s: %w", container, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			var size int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			objects = append(objects, Object{Name: *item.Name, SizeBytes: size})
		}
	}
	return objects, nil
}

// DownloadStream implements Client. When dest is an *os.File it downloads
// via the SDK's ranged, multi-connection DownloadFile so concurrency is
// actually exercised (section 4.6 step 2); a plain io.Writer falls back to
// the single-connection DownloadStream, since only a WriteAt-capable
// destination can accept out-of-order ranged writes.
func (c *azureClient) DownloadStream(ctx context.Context, container, blobName string, dest io.Writer, concurrency int) (int64, error) {
	if f, ok := dest.(*os.File); ok {
		opts := &azsdk.DownloadFileOptions{}
		if concurrency > 0 {
			opts.Concurrency = uint16(concurrency)
		}
		written, err := c.svc.DownloadFile(ctx, container, blobName, f, opts)
		if err != nil {
			return written, fmt.Errorf("azblob: failed to download %s/%s: %w", container, blobName, err)
		}
		return written, nil
	}

	resp, err := c.svc.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		return 0, fmt.Errorf("azblob: failed to open download stream for %s/%s: %w", container, blobName, err)
	}
	defer resp.Body.Close()

	written, err := io.Copy(dest, resp.Body)
	if err != nil {
		return written, fmt.Errorf("azblob: failed streaming %s/%s: %w", container, blobName, err)
	}
	return written, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ErrorCode extracts the Azure error code from err, if any, for the
// Downloader's failure-kind classification in section 7 (network timeout vs.
// short read vs. path error).
func ErrorCode(err error) string {
	var respErr *azcore.ResponseError
	if err == nil {
		return ""
	}
	if ok := asResponseError(err, &respErr); ok {
		return respErr.ErrorCode
	}
	return ""
}

func asResponseError(err error, target **azcore.ResponseError) bool {
	for err != nil {
		if respErr, ok := err.(*azcore.ResponseError); ok {
			*target = respErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

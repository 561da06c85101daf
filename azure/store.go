package azure

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/tidewater-io/tidewater/store"
)

// copyPollInterval is how often a pending server-side copy is re-checked.
const copyPollInterval = 200 * time.Millisecond

// Store implements store.BlobStore on Azure Blob Storage.
type Store struct {
	client *service.Client
}

var _ store.BlobStore = (*Store)(nil)

// NewStore wraps a service client.
func NewStore(client *service.Client) *Store {
	return &Store{client: client}
}

func (s *Store) containerClient(name string) *container.Client {
	return s.client.NewContainerClient(name)
}

func (s *Store) blobClient(containerName, name string) *blob.Client {
	return s.containerClient(containerName).NewBlobClient(name)
}

// azurePager narrows the SDK pager to what the port needs.
type azurePager struct {
	more func() bool
	next func(ctx context.Context) ([]store.BlobInfo, error)
}

func (s *Store) List(containerName string, opts store.ListOptions) store.Pager {
	listOpts := &container.ListBlobsFlatOptions{
		Include: container.ListBlobsInclude{Tags: opts.IncludeTags},
	}
	if opts.Prefix != "" {
		prefix := opts.Prefix
		listOpts.Prefix = &prefix
	}
	if opts.PageSize > 0 {
		size := opts.PageSize
		listOpts.MaxResults = &size
	}

	pager := s.containerClient(containerName).NewListBlobsFlatPager(listOpts)
	return &azurePager{
		more: pager.More,
		next: func(ctx context.Context) ([]store.BlobInfo, error) {
			resp, err := pager.NextPage(ctx)
			if err != nil {
				return nil, mapError("list blobs", err)
			}
			page := make([]store.BlobInfo, 0, len(resp.Segment.BlobItems))
			for _, item := range resp.Segment.BlobItems {
				if item.Name == nil {
					continue
				}
				info := store.BlobInfo{Name: *item.Name}
				if item.Properties != nil {
					if item.Properties.ContentLength != nil {
						info.Size = *item.Properties.ContentLength
					}
					if item.Properties.LastModified != nil {
						info.LastModified = *item.Properties.LastModified
					}
				}
				if item.BlobTags != nil {
					info.Tags = tagSetToMap(item.BlobTags.BlobTagSet)
				}
				page = append(page, info)
			}
			return page, nil
		},
	}
}

func (p *azurePager) More() bool {
	return p.more()
}

func (p *azurePager) NextPage(ctx context.Context) ([]store.BlobInfo, error) {
	return p.next(ctx)
}

func (s *Store) Open(ctx context.Context, containerName, name string) (io.ReadCloser, store.BlobInfo, error) {
	resp, err := s.blobClient(containerName, name).DownloadStream(ctx, nil)
	if err != nil {
		return nil, store.BlobInfo{}, mapError(fmt.Sprintf("open %s", name), err)
	}
	info := store.BlobInfo{Name: name}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}
	return resp.Body, info, nil
}

func (s *Store) GetTags(ctx context.Context, containerName, name string) (map[string]string, error) {
	resp, err := s.blobClient(containerName, name).GetTags(ctx, nil)
	if err != nil {
		return nil, mapError(fmt.Sprintf("get tags %s", name), err)
	}
	return tagSetToMap(resp.BlobTagSet), nil
}

func (s *Store) SetTags(ctx context.Context, containerName, name string, tags map[string]string, leaseID string) error {
	var opts *blob.SetTagsOptions
	if leaseID != "" {
		id := leaseID
		opts = &blob.SetTagsOptions{
			AccessConditions: &blob.AccessConditions{
				LeaseAccessConditions: &blob.LeaseAccessConditions{LeaseID: &id},
			},
		}
	}
	if _, err := s.blobClient(containerName, name).SetTags(ctx, tags, opts); err != nil {
		return mapError(fmt.Sprintf("set tags %s", name), err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, containerName, name string) (bool, error) {
	_, err := s.blobClient(containerName, name).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, mapError(fmt.Sprintf("probe %s", name), err)
	}
	return true, nil
}

// Copy starts a server-side copy and polls until the service reports it
// finished. Log blobs are small enough that pending copies resolve quickly.
func (s *Store) Copy(ctx context.Context, srcContainer, dstContainer, name string) error {
	src := s.blobClient(srcContainer, name)
	dst := s.blobClient(dstContainer, name)

	startResp, err := dst.StartCopyFromURL(ctx, src.URL(), nil)
	if err != nil {
		return mapError(fmt.Sprintf("copy %s", name), err)
	}

	status := blob.CopyStatusTypePending
	if startResp.CopyStatus != nil {
		status = *startResp.CopyStatus
	}
	for status == blob.CopyStatusTypePending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(copyPollInterval):
		}
		props, err := dst.GetProperties(ctx, nil)
		if err != nil {
			return mapError(fmt.Sprintf("poll copy %s", name), err)
		}
		if props.CopyStatus != nil {
			status = *props.CopyStatus
		}
	}
	if status != blob.CopyStatusTypeSuccess {
		return fmt.Errorf("copy %s to %s ended with status %s", name, dstContainer, status)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, containerName, name string, leaseID string) error {
	var opts *blob.DeleteOptions
	if leaseID != "" {
		id := leaseID
		opts = &blob.DeleteOptions{
			AccessConditions: &blob.AccessConditions{
				LeaseAccessConditions: &blob.LeaseAccessConditions{LeaseID: &id},
			},
		}
	}
	if _, err := s.blobClient(containerName, name).Delete(ctx, opts); err != nil {
		return mapError(fmt.Sprintf("delete %s", name), err)
	}
	return nil
}

func (s *Store) AcquireLease(ctx context.Context, containerName, name string, duration time.Duration) (string, error) {
	leaseClient, err := lease.NewBlobClient(s.blobClient(containerName, name), nil)
	if err != nil {
		return "", fmt.Errorf("lease client for %s: %w", name, err)
	}
	resp, err := leaseClient.AcquireLease(ctx, int32(duration.Seconds()), nil)
	if err != nil {
		return "", mapError(fmt.Sprintf("acquire lease %s", name), err)
	}
	if resp.LeaseID == nil {
		return "", fmt.Errorf("acquire lease %s: empty lease id", name)
	}
	return *resp.LeaseID, nil
}

func (s *Store) RenewLease(ctx context.Context, containerName, name, leaseID string) error {
	leaseClient, err := lease.NewBlobClient(s.blobClient(containerName, name), &lease.BlobClientOptions{LeaseID: &leaseID})
	if err != nil {
		return fmt.Errorf("lease client for %s: %w", name, err)
	}
	if _, err := leaseClient.RenewLease(ctx, nil); err != nil {
		return mapError(fmt.Sprintf("renew lease %s", name), err)
	}
	return nil
}

func (s *Store) ReleaseLease(ctx context.Context, containerName, name, leaseID string) error {
	leaseClient, err := lease.NewBlobClient(s.blobClient(containerName, name), &lease.BlobClientOptions{LeaseID: &leaseID})
	if err != nil {
		return fmt.Errorf("lease client for %s: %w", name, err)
	}
	if _, err := leaseClient.ReleaseLease(ctx, nil); err != nil {
		return mapError(fmt.Sprintf("release lease %s", name), err)
	}
	return nil
}

func tagSetToMap(tagSet []*container.BlobTag) map[string]string {
	tags := make(map[string]string, len(tagSet))
	for _, tag := range tagSet {
		if tag != nil && tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}
	return tags
}

// mapError translates service error codes into the port's error kinds so
// callers branch with errors.Is instead of inspecting HTTP responses.
func mapError(op string, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.LeaseAlreadyPresent):
		return fmt.Errorf("%s: %w", op, store.ErrLeaseConflict)
	case bloberror.HasCode(err,
		bloberror.LeaseNotPresentWithLeaseOperation,
		bloberror.LeaseIDMismatchWithLeaseOperation,
		bloberror.LeaseLost):
		return fmt.Errorf("%s: %w", op, store.ErrLeaseNotHeld)
	case bloberror.HasCode(err,
		bloberror.ConditionNotMet,
		bloberror.LeaseIDMismatchWithBlobOperation,
		bloberror.LeaseNotPresentWithBlobOperation):
		return fmt.Errorf("%s: %w", op, store.ErrPreconditionFailed)
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

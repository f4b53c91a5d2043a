package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/chtzvt/csvjob/internal/secrets"
)

// BlobAPI is the container-scoped subset of the blob service the store uses.
type BlobAPI interface {
	UploadStream(ctx context.Context, blobName string, body io.Reader) error
	DownloadStream(ctx context.Context, blobName string) (io.ReadCloser, error)
	ListBlobs(ctx context.Context, prefix string) ([]Object, error)
	DeleteBlob(ctx context.Context, blobName string) error
}

var errUploadAborted = errors.New("upload aborted")

type AzureBlobStore struct {
	account    string
	container  string
	serviceURL string
	keySecret  string
	secrets    *secrets.Store

	Client BlobAPI // test only; nil in prod, set by test

	mu sync.Mutex
}

// NewAzureBlobStore builds a store for an azblob://container/prefix URI.
// Options: account, service_url (defaults to the public endpoint of account),
// account_key_secret (name of the secret holding the shared key). Without a
// key secret the service URL is used as is, so it must carry a SAS token.
func NewAzureBlobStore(location *url.URL, opts map[string]interface{}, secrets *secrets.Store) (Store, error) {
	account := optString(opts, "account")
	container := location.Host
	if container == "" {
		container = optString(opts, "container")
	}
	serviceURL := optString(opts, "service_url")
	if serviceURL == "" && account != "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}
	if container == "" || serviceURL == "" {
		return nil, fmt.Errorf("azureblob store requires a container and an 'account' or 'service_url' option")
	}
	keySecret := optString(opts, "account_key_secret")
	if keySecret != "" && (account == "" || secrets == nil) {
		return nil, fmt.Errorf("azureblob store: shared key auth needs 'account' and a secrets store")
	}
	return &AzureBlobStore{
		account:    account,
		container:  container,
		serviceURL: serviceURL,
		keySecret:  keySecret,
		secrets:    secrets,
	}, nil
}

func (a *AzureBlobStore) client(ctx context.Context) (BlobAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Client != nil {
		return a.Client, nil
	}
	var (
		client *azblob.Client
		err    error
	)
	if a.keySecret != "" {
		key, kerr := a.secrets.Get(ctx, a.keySecret)
		if kerr != nil {
			return nil, fmt.Errorf("missing %s in secrets: %w", a.keySecret, kerr)
		}
		cred, cerr := azblob.NewSharedKeyCredential(a.account, string(key))
		if cerr != nil {
			return nil, fmt.Errorf("azure shared key credential error: %w", cerr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(a.serviceURL, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(a.serviceURL, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure blob client init error: %w", err)
	}
	a.Client = &containerClient{client: client, container: a.container}
	return a.Client, nil
}

func (a *AzureBlobStore) List(ctx context.Context, prefix string) ([]Object, error) {
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListBlobs(ctx, prefix)
}

func (a *AzureBlobStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.DownloadStream(ctx, name)
}

// Create streams the blob through an io.Pipe; the upload completes on Close.
func (a *AzureBlobStore) Create(ctx context.Context, name string) (Writer, error) {
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := c.UploadStream(ctx, name, pr)
		// Unblock the writer if the upload stopped reading early.
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &blobWriter{pw: pw, done: done, name: name}, nil
}

func (a *AzureBlobStore) Delete(ctx context.Context, names ...string) error {
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := c.DeleteBlob(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

type blobWriter struct {
	pw       *io.PipeWriter
	done     chan error
	name     string
	finished bool
	err      error
}

func (w *blobWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *blobWriter) Close() error {
	return w.finish(nil)
}

func (w *blobWriter) Abort() error {
	err := w.finish(errUploadAborted)
	if errors.Is(err, errUploadAborted) {
		return nil
	}
	return err
}

func (w *blobWriter) finish(cause error) error {
	if w.finished {
		return w.err
	}
	w.finished = true
	if cause != nil {
		_ = w.pw.CloseWithError(cause)
	} else {
		_ = w.pw.Close()
	}
	if err := <-w.done; err != nil {
		w.err = fmt.Errorf("upload %s: %w", w.name, err)
	}
	return w.err
}

// containerClient adapts *azblob.Client to BlobAPI for one container.
type containerClient struct {
	client    *azblob.Client
	container string
}

func (c *containerClient) UploadStream(ctx context.Context, blobName string, body io.Reader) error {
	_, err := c.client.UploadStream(ctx, c.container, blobName, body, nil)
	return err
}

func (c *containerClient) DownloadStream(ctx context.Context, blobName string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, blobName, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, c.container, blobName)
		}
		return nil, err
	}
	return resp.Body, nil
}

func (c *containerClient) ListBlobs(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			obj := Object{Name: *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				obj.Size = *item.Properties.ContentLength
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

func (c *containerClient) DeleteBlob(ctx context.Context, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, c.container, blobName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete %s/%s: %w", c.container, blobName, err)
	}
	return nil
}

func init() {
	Register("azblob", NewAzureBlobStore)
	Register("azureblob", NewAzureBlobStore)
}

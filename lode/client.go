package lode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// Client abstracts the dataset writer so sinks can be tested without storage.
type Client interface {
	// WriteRecords writes records as one snapshot. Order is preserved.
	WriteRecords(ctx context.Context, records []any) error
	// PutFile writes a sidecar file next to the run's partitions.
	PutFile(ctx context.Context, filename string, data []byte) error
	// Close releases client resources.
	Close() error
}

// LodeClient is a Lode-backed implementation of Client.
// Uses Lode's HiveLayout with partition keys pipeline/day/run_id/record_kind.
type LodeClient struct {
	dataset      lode.Dataset
	config       Config
	storeFactory lode.StoreFactory

	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// NewLodeClient creates a client with filesystem storage rooted at root.
// The root directory is created if missing.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeS3Client creates a client with S3 storage.
func NewLodeS3Client(ctx context.Context, cfg Config, s3cfg S3Config) (*LodeClient, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewLodeClientWithFactory(cfg, factory)
}

// NewLodeClientWithFactory creates a client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}, nil
}

// WriteRecords implements Client.
func (c *LodeClient) WriteRecords(ctx context.Context, records []any) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset)
	}
	return nil
}

// PutFile implements Client. Files bypass the dataset manifest and land at
// datasets/<dataset>/partitions/pipeline=<p>/day=<d>/run_id=<r>/files/<filename>.
func (c *LodeClient) PutFile(ctx context.Context, filename string, data []byte) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}
	path := c.buildFilePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

func (c *LodeClient) buildFilePath(filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/pipeline=%s/day=%s/run_id=%s/files/%s",
		c.config.Dataset,
		c.config.Pipeline,
		c.config.Day,
		c.config.RunID,
		filename,
	)
}

// Close implements Client. The dataset needs no explicit close.
func (c *LodeClient) Close() error {
	return nil
}

var _ Client = (*LodeClient)(nil)

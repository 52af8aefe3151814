package client

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockStorageClient is an in-memory StorageClient used when object storage
// is not configured, and in tests.
type MockStorageClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
	bucket  string
}

// NewMockStorageClient creates an in-memory storage client.
func NewMockStorageClient(bucket string) *MockStorageClient {
	return &MockStorageClient{
		objects: make(map[string][]byte),
		bucket:  bucket,
	}
}

func (c *MockStorageClient) Put(ctx context.Context, key string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := make([]byte, len(body))
	copy(data, body)
	c.objects[key] = data
	return nil
}

func (c *MockStorageClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c *MockStorageClient) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.objects[key]; !ok {
		return "", fmt.Errorf("object not found: %s", key)
	}
	return fmt.Sprintf("mock://%s/%s", c.bucket, key), nil
}

func (c *MockStorageClient) GetPublicURL(key string) string {
	return fmt.Sprintf("mock://%s/%s", c.bucket, key)
}

func (c *MockStorageClient) Bucket() string {
	return c.bucket
}

// Len returns the number of stored objects.
func (c *MockStorageClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

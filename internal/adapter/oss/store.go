// Package oss implements the object store port on Alibaba Cloud OSS.
package oss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/labtracksimple/labtrack/internal/config"
	"github.com/labtracksimple/labtrack/internal/resilience"
)

// bucket is the subset of *alioss.Bucket the store uses.
type bucket interface {
	PutObject(key string, r io.Reader, options ...alioss.Option) error
	SignURL(key string, method alioss.HTTPMethod, expiredInSec int64, options ...alioss.Option) (string, error)
	DeleteObject(key string, options ...alioss.Option) error
}

// Store uploads artifacts to a single OSS bucket. Every remote call goes
// through a circuit breaker.
type Store struct {
	bucket  bucket
	breaker *resilience.Breaker
}

// New connects to the configured bucket.
func New(cfg config.Storage, breaker *resilience.Breaker) (*Store, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("oss: access key id and secret are required")
	}
	client, err := alioss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	b, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", cfg.Bucket, err)
	}
	return newStore(b, breaker), nil
}

func newStore(b bucket, breaker *resilience.Breaker) *Store {
	return &Store{bucket: b, breaker: breaker}
}

// Put uploads body under key. Objects are private; reads go through SignedURL.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.bucket.PutObject(key, body,
			alioss.WithContext(ctx),
			alioss.ContentType(contentType),
			alioss.ContentDisposition("inline"),
			alioss.ObjectACL(alioss.ACLPrivate),
		)
	})
	if err != nil {
		return fmt.Errorf("oss put %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a GET URL for key valid for ttl, rounded up to a second.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	var url string
	err := s.breaker.Execute(ctx, func(context.Context) error {
		u, err := s.bucket.SignURL(key, alioss.HTTPGet, secs)
		url = u
		return err
	})
	if err != nil {
		return "", fmt.Errorf("oss sign %s: %w", key, err)
	}
	return url, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.bucket.DeleteObject(key, alioss.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("oss delete %s: %w", key, err)
	}
	return nil
}

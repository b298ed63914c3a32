/*
Copyright (C) 2023-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package cold

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend stores archived buckets as objects under Prefix in Bucket.
// Unlike the append-log S3 layout the core storage engine needs, archived
// MAL buckets are immutable once sealed, so each is simply one PutObject —
// no segment/manifest bookkeeping is required.
type S3Backend struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Backend(bucket, prefix string) *S3Backend {
	return &S3Backend{Bucket: bucket, Prefix: prefix}
}

func (b *S3Backend) ensureClient(ctx context.Context) (*s3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}

	var opts []func(*config.LoadOptions) error
	if b.Region != "" {
		opts = append(opts, config.WithRegion(b.Region))
	}
	if b.AccessKeyID != "" && b.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if b.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(b.Endpoint) })
	}
	if b.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	b.client = s3.NewFromConfig(cfg, s3Opts...)
	return b.client, nil
}

func (b *S3Backend) objectKey(key string) string {
	if b.Prefix == "" {
		return key
	}
	return b.Prefix + "/" + key
}

func (b *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *S3Backend) Remove(ctx context.Context, key string) error {
	client, err := b.ensureClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	return err
}

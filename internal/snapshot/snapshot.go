// Package snapshot archives the definition a version starts from in object storage.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes the bucket snapshots are written to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object is one archived definition.
type Object struct {
	AppID      string          `json:"appId"`
	VersionID  string          `json:"versionId"`
	Name       string          `json:"name"`
	CommitHash string          `json:"commitHash"`
	CreatedAt  time.Time       `json:"createdAt"`
	Definition json.RawMessage `json:"definition"`
}

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader writes snapshots to a MinIO or S3 bucket.
type Uploader struct {
	objects objectStore
	bucket  string
}

// NewUploader connects to the endpoint and creates the bucket when missing.
func NewUploader(ctx context.Context, cfg Config) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	u := &Uploader{objects: client, bucket: cfg.Bucket}
	if err := u.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.objects.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.objects.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}

// ObjectKey is where the snapshot of a version lives in the bucket.
func ObjectKey(appID, versionID string) string {
	return path.Join("apps", appID, "versions", versionID+".json")
}

// Put uploads obj and returns its object key.
func (u *Uploader) Put(ctx context.Context, obj Object) (string, error) {
	payload, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	key := ObjectKey(obj.AppID, obj.VersionID)
	_, err = u.objects.PutObject(ctx, u.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"version-name": obj.Name,
			"commit":       obj.CommitHash,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}

// PutAsync uploads obj in the background and logs failures.
func (u *Uploader) PutAsync(obj Object) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := u.Put(ctx, obj); err != nil {
			log.Printf("snapshot: %v", err)
		}
	}()
}

package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/posturedev/posturelink/internal/session"
)

// Archiver mirrors finalized session records to S3-compatible object
// storage for long-term retention.
type Archiver struct {
	client *minio.Client
	bucket string
	prefix string
}

type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
}

func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("missing archive configuration")
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "posturelink/sessions"
	}

	return &Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

func (a *Archiver) ArchiveSession(ctx context.Context, ownerID string, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	name := rec.ID
	if name == "" {
		name = strconv.FormatInt(rec.StartedAt, 10)
	}
	reader := bytes.NewReader(data)
	_, err = a.client.PutObject(ctx, a.bucket, a.key(ownerID, name), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload session record: %w", err)
	}
	return nil
}

func (a *Archiver) key(ownerID, name string) string {
	return path.Join(a.prefix, ownerID, name+".json")
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"DeckPilot/config"
	"DeckPilot/logger"
	"DeckPilot/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// reportPrefix is the object prefix of reports.
const reportPrefix = "reports/"

// ErrReportNotFound is returned by GetReport for missing objects.
var ErrReportNotFound = errors.New("report not found")

// InitMinio creates the MinIO client and makes sure the report bucket exists.
func InitMinio(ctx context.Context, cfg *config.Config) (*minio.Client, error) {
	if cfg.MinioEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT not configured")
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// bucket exists?
	exists, err := client.BucketExists(ctx, cfg.ReportBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.ReportBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		logger.Info("report bucket created", logger.String("bucket", cfg.ReportBucket))
	}
	return client, nil
}

// ReportStore archives session reports as JSON objects.
type ReportStore struct {
	client *minio.Client
	bucket string
}

// NewReportStore creates a store writing into bucket.
func NewReportStore(client *minio.Client, bucket string) *ReportStore {
	return &ReportStore{client: client, bucket: bucket}
}

// ReportObjectName is reports/<yyyy>/<mm>/<dd>/<session>-<hhmmss>.json.
func ReportObjectName(r model.SessionReport) string {
	ended := r.EndedAt.UTC()
	id := r.SessionID
	if id == "" {
		id = "adhoc"
	}
	return path.Join(reportPrefix, ended.Format("2006/01/02"), fmt.Sprintf("%s-%s.json", id, ended.Format("150405")))
}

// SaveReport uploads r and returns the object name.
func (s *ReportStore) SaveReport(ctx context.Context, r model.SessionReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	name := ReportObjectName(r)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", name, err)
	}
	logger.Info("session report archived", logger.String("bucket", s.bucket), logger.String("object", name))
	return name, nil
}

// ObjectInfo describes one archived object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListReports lists archived reports under the optional day prefix
// ("2024/06/01").
func (s *ReportStore) ListReports(ctx context.Context, day string) ([]ObjectInfo, error) {
	prefix := reportPrefix
	if day != "" {
		prefix = path.Join(reportPrefix, day) + "/"
	}
	var objects []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{Key: object.Key, Size: object.Size, LastModified: object.LastModified})
	}
	return objects, nil
}

// GetReport downloads one archived report.
func (s *ReportStore) GetReport(ctx context.Context, name string) (*model.SessionReport, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", name, err)
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, name)
		}
		return nil, fmt.Errorf("stat report %s: %w", name, err)
	}

	var r model.SessionReport
	if err := json.NewDecoder(obj).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", name, err)
	}
	return &r, nil
}

// FormatSize renders a byte count.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

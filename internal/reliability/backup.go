package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/sentinel/internal/database"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// BackupMetadata records what went into one cold-storage archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata records one database's contribution to a backup archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"` // hex sha256
}

// S3BackupService archives the store databases to a tar.gz and uploads it
// to S3-compatible cold storage, following the teacher's stage-then-upload
// shape (archive locally, checksum each member, ship once).
type S3BackupService struct {
	uploader  *manager.Uploader
	bucket    string
	dataDir   string
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewS3BackupService constructs the backup service against an already
// configured S3 client (region/credentials resolved by the caller via
// aws-sdk-go-v2/config).
func NewS3BackupService(client *s3.Client, bucket, dataDir string, databases map[string]*database.DB, log zerolog.Logger) *S3BackupService {
	return &S3BackupService{
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		dataDir:   dataDir,
		databases: databases,
		log:       log.With().Str("service", "s3_backup").Logger(),
	}
}

// CreateAndUpload snapshots every store database into a single tar.gz and
// uploads it under backups/daily/<date>.tar.gz.
func (s *S3BackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()
	staging, err := os.MkdirTemp(s.dataDir, "backup-staging-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	archivePath := filepath.Join(staging, "backup.tar.gz")
	meta, err := s.writeArchive(archivePath)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("backups/daily/%s.tar.gz", meta.Timestamp.Format("2006-01-02"))
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	s.log.Info().Str("key", key).Dur("duration_ms", time.Since(start)).Int("databases", len(meta.Databases)).Msg("backup uploaded")
	return nil
}

func (s *S3BackupService) writeArchive(archivePath string) (BackupMetadata, error) {
	meta := BackupMetadata{Timestamp: time.Now().UTC()}

	out, err := os.Create(archivePath)
	if err != nil {
		return meta, err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for name, db := range s.databases {
		path := db.Path()
		info, err := os.Stat(path)
		if err != nil {
			return meta, fmt.Errorf("stat %s: %w", name, err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return meta, fmt.Errorf("checksum %s: %w", name, err)
		}
		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name: name, SizeBytes: info.Size(), Checksum: checksum,
		})

		if err := tw.WriteHeader(&tar.Header{
			Name: name + ".db", Size: info.Size(), Mode: 0644, ModTime: info.ModTime(),
		}); err != nil {
			return meta, err
		}
		f, err := os.Open(path)
		if err != nil {
			return meta, err
		}
		_, copyErr := io.Copy(tw, f)
		f.Close()
		if copyErr != nil {
			return meta, copyErr
		}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return meta, err
	}
	if err := tw.WriteHeader(&tar.Header{Name: "metadata.json", Size: int64(len(metaJSON)), Mode: 0644}); err != nil {
		return meta, err
	}
	if _, err := tw.Write(metaJSON); err != nil {
		return meta, err
	}
	return meta, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

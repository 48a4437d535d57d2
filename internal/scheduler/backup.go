package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BackupMirror periodically uploads the TaskStore's JSON document to an
// S3-compatible bucket, giving operators an off-site copy independent of
// the host filesystem. It is optional; the Scheduler runs correctly
// without one.
type BackupMirror struct {
	uploader *manager.Uploader
	bucket   string
	key      string
	path     string
	interval time.Duration

	stopCh    chan struct{}
	triggerCh chan struct{}
}

// NewBackupMirror builds a mirror for the file at path, uploading to
// bucket/key every interval (minimum 1 minute). Uses the default AWS
// credential chain (env vars, shared config, instance role).
func NewBackupMirror(ctx context.Context, bucket, key, region, path string, interval time.Duration) (*BackupMirror, error) {
	if interval < time.Minute {
		interval = time.Minute
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errPersistence(CodeIOError, err)
	}
	client := s3.NewFromConfig(cfg)
	return &BackupMirror{
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		key:       key,
		path:      path,
		interval:  interval,
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}, nil
}

// Start runs the upload loop until Stop is called: an upload fires
// whenever Trigger is called (debounced to one pending upload) or the
// periodic ticker elapses, whichever comes first, so the mirror stays
// close to the live store even if a Trigger is ever missed.
func (b *BackupMirror) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-b.triggerCh:
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			}
			if err := b.uploadOnce(ctx); err != nil {
				slog.Warn("scheduler: backup mirror upload failed", "error", err)
			}
		}
	}()
}

// Trigger requests an upload as soon as the upload loop is next
// scheduled, without blocking the caller. Intended to be registered as
// a TaskStore write hook so the mirror picks up each atomic write
// promptly instead of waiting for the next ticker tick.
func (b *BackupMirror) Trigger() {
	select {
	case b.triggerCh <- struct{}{}:
	default:
	}
}

// Stop halts the upload loop.
func (b *BackupMirror) Stop() {
	close(b.stopCh)
}

func (b *BackupMirror) uploadOnce(ctx context.Context) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return err
	}
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    &b.key,
		Body:   bytes.NewReader(data),
	})
	return err
}

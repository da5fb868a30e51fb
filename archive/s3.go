// Package archive keeps closed approval workflows in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/liamcoop/torquesign/events"
	"github.com/liamcoop/torquesign/internal/logger"
	"github.com/liamcoop/torquesign/internal/metrics"
	"github.com/liamcoop/torquesign/workflow"
)

// TerminalEvents are the events whose payload is a closed workflow
var TerminalEvents = []string{
	events.WorkflowCompleted,
	events.WorkflowRejected,
	events.WorkflowWithdrawn,
	events.WorkflowTimeout,
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes workflow records to
//
//	s3://<bucket>/<prefix>/workflows/YYYY/MM/DD/<workflowID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
	timeout  time.Duration
}

// NewS3Archiver loads AWS configuration from the environment
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Archiver(manager.NewUploader(s3.NewFromConfig(cfg)), bucket, prefix), nil
}

func newS3Archiver(u uploader, bucket, prefix string) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: u, timeout: 30 * time.Second}
}

// Key returns the object key for wf, dated by its close time
func (a *S3Archiver) Key(wf workflow.Workflow) string {
	ts := wf.UpdatedAt
	if wf.CompletedAt != nil {
		ts = *wf.CompletedAt
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	year, month, day := ts.UTC().Date()
	return path.Join(a.prefix, "workflows",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		wf.ID+".json",
	)
}

// ArchiveWorkflow uploads a closed workflow and returns its key
func (a *S3Archiver) ArchiveWorkflow(ctx context.Context, wf workflow.Workflow) (string, error) {
	if !wf.Status.Terminal() {
		return "", fmt.Errorf("archive workflow %s: status %s is not terminal", wf.ID, wf.Status)
	}
	body, err := json.Marshal(wf)
	if err != nil {
		return "", fmt.Errorf("encode workflow %s: %w", wf.ID, err)
	}

	key := a.Key(wf)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return key, nil
}

// Handle archives the workflow carried by a terminal event
func (a *S3Archiver) Handle(e events.Event) {
	wf, ok := e.Payload.(workflow.Workflow)
	if !ok {
		logger.Warn("archive: unexpected payload", "event", e.Name, "entity_id", e.EntityID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	key, err := a.ArchiveWorkflow(ctx, wf)
	if err != nil {
		metrics.SinkFailure("s3")
		logger.Error("workflow archive failed", "workflow_id", wf.ID, "error", err)
		return
	}
	logger.Debug("workflow archived", "workflow_id", wf.ID, "key", key)
}

// Subscribe archives terminal workflows from bus on a background worker. The
// returned func unsubscribes and waits for queued uploads.
func (a *S3Archiver) Subscribe(bus *events.Bus, buffer int) func() {
	worker := events.Async(a.Handle, buffer)
	off := bus.OnEach(TerminalEvents, worker.Handle)
	return func() {
		off()
		worker.Close()
	}
}

package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YoshitsuguKoike/mdtxn/internal/application/port/output"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/distxn"
	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

var (
	errNotStarted = errors.New("local transaction not started")
	errForeign    = errors.New("handle belongs to another device")
)

// S3Device is a metadata device stored in an S3 bucket.
// Bucket structure: s3://<bucket>/<prefix>/
//   - entries/<key>: committed value of key
//   - txns/<handle id>.json: record of every committed local transaction
//
// Writes are buffered in the handle and sent on commit. S3 acknowledges each PutObject
// durably, so the handle's Sync flag needs no extra work. There is no undo: when a
// commit fails halfway, the objects already written stay.
type S3Device struct {
	id         distxn.DeviceID
	client     S3API // Use interface for testability
	bucketName string
	prefix     string
}

// S3Config holds S3 device configuration
type S3Config struct {
	BucketName string // S3 bucket name
	Prefix     string // Optional key prefix
	Region     string // AWS region (optional, uses default if empty)
	Endpoint   string // Custom endpoint for S3-compatible stores (optional)
}

// s3Local is the per-handle state
type s3Local struct {
	ops     []update.Op
	started bool
}

// s3TxnRecord is stored under txns/ on commit
type s3TxnRecord struct {
	HandleID    string    `json:"handle_id"`
	TopTxnID    string    `json:"top_txn_id,omitempty"`
	Ops         int       `json:"ops"`
	Keys        []string  `json:"keys"`
	CommittedAt time.Time `json:"committed_at"`
}

// NewS3Device creates a device using the default AWS credential chain
func NewS3Device(ctx context.Context, id distxn.DeviceID, cfg S3Config) (*S3Device, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3 device %s: bucket is required", id)
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3DeviceWithClient(id, client, cfg.BucketName, cfg.Prefix), nil
}

// NewS3DeviceWithClient creates a device with a custom S3 client
// This is primarily used for testing with mock S3 clients
func NewS3DeviceWithClient(id distxn.DeviceID, client S3API, bucketName, prefix string) *S3Device {
	return &S3Device{
		id:         id,
		client:     client,
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
	}
}

// ID returns the device ID
func (d *S3Device) ID() distxn.DeviceID { return d.id }

// CreateLocal returns a handle with an empty write buffer
func (d *S3Device) CreateLocal(ctx context.Context) (*distxn.Handle, error) {
	return distxn.NewHandle(d.id, &s3Local{}), nil
}

// StartLocal marks the handle writable
func (d *S3Device) StartLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	l.started = true
	return nil
}

// Write buffers op until commit
func (d *S3Device) Write(ctx context.Context, h *distxn.Handle, op update.Op) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	if !l.started {
		return errNotStarted
	}
	op, err = op.Normalize()
	if err != nil {
		return err
	}
	l.ops = append(l.ops, op)
	return nil
}

// StopLocal sends the buffered ops in order and records the transaction, or discards the
// buffer when h.Result is set.
func (d *S3Device) StopLocal(ctx context.Context, h *distxn.Handle) error {
	l, err := d.local(h)
	if err != nil {
		return err
	}
	ops := l.ops
	l.ops = nil

	if h.Result != nil {
		return h.Result
	}
	if !l.started {
		return errNotStarted
	}

	txnID := h.ID().String()
	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		key := d.buildKey("entries", op.Key)
		switch op.Kind {
		case update.KindPut:
			sum := sha256.Sum256([]byte(op.Value))
			_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(d.bucketName),
				Key:         aws.String(key),
				Body:        strings.NewReader(op.Value),
				ContentType: aws.String("text/plain"),
				Metadata: map[string]string{
					"txn-id":   txnID,
					"checksum": hex.EncodeToString(sum[:]),
				},
			})
		case update.KindDelete:
			_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(d.bucketName),
				Key:    aws.String(key),
			})
		}
		if err != nil {
			return fmt.Errorf("%s %s to S3 after %d of %d ops: %w", op.Kind, op.Key, len(keys), len(ops), err)
		}
		keys = append(keys, op.Key)
	}

	record := s3TxnRecord{
		HandleID:    txnID,
		Ops:         len(ops),
		Keys:        keys,
		CommittedAt: time.Now().UTC(),
	}
	if tx, ok := distxn.FromHandle(h); ok {
		record.TopTxnID = tx.ID()
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal transaction record: %w", err)
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucketName),
		Key:         aws.String(d.buildKey("txns", txnID+".json")),
		Body:        bytes.NewReader(recordJSON),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload transaction record to S3: %w", err)
	}
	return nil
}

func (d *S3Device) local(h *distxn.Handle) (*s3Local, error) {
	if h == nil || h.Device() != d.id {
		return nil, errForeign
	}
	l, ok := h.Payload().(*s3Local)
	if !ok {
		return nil, errForeign
	}
	return l, nil
}

// Get returns the committed value of key
func (d *S3Device) Get(ctx context.Context, key string) (string, error) {
	key, err := update.NormalizeKey(key)
	if err != nil {
		return "", err
	}

	obj, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucketName),
		Key:    aws.String(d.buildKey("entries", key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return "", fmt.Errorf("%s on %s: %w", key, d.id, output.ErrEntryNotFound)
		}
		return "", fmt.Errorf("download from S3: %w", err)
	}
	defer obj.Body.Close()

	content, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return string(content), nil
}

// Keys lists the committed keys in lexical order
func (d *S3Device) Keys(ctx context.Context) ([]string, error) {
	prefix := d.buildKey("entries") + "/"

	var keys []string
	var token *string
	for {
		out, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(d.bucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list S3 objects: %w", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// buildKey builds an S3 key with the configured prefix
func (d *S3Device) buildKey(parts ...string) string {
	if d.prefix != "" {
		parts = append([]string{d.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

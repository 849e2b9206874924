package s3util

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// RawPrefix is the key prefix under which model responses are archived.
const RawPrefix = "raw"

// projectTag is the URL-encoded object tagging string for cost allocation.
const projectTag = "Project=hand-extractor"

// ProjectTagging returns the tagging string set on every object the
// extractor writes.
func ProjectTagging() *string {
	t := projectTag
	return &t
}

// PutAPI is the subset of *s3.Client used to write archive objects.
type PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveKey is the object key for one model response.
func ArchiveKey(runID string, segment, attempt int) string {
	return path.Join(RawPrefix, runID, fmt.Sprintf("segment_%03d_attempt_%d.json.zst", segment, attempt))
}

// RawArchiver stores zstd-compressed copies of raw model responses.
type RawArchiver struct {
	Client PutAPI
	Bucket string

	enc *zstd.Encoder
}

// NewRawArchiver builds an archiver writing to bucket.
func NewRawArchiver(client PutAPI, bucket string) (*RawArchiver, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &RawArchiver{Client: client, Bucket: bucket, enc: enc}, nil
}

// Archive writes raw under ArchiveKey(runID, segment, attempt).
func (a *RawArchiver) Archive(ctx context.Context, runID string, segment, attempt int, raw string) error {
	key := ArchiveKey(runID, segment, attempt)
	body := a.enc.EncodeAll([]byte(raw), nil)

	contentType := "application/json"
	encoding := "zstd"
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          &a.Bucket,
		Key:             &key,
		Body:            bytes.NewReader(body),
		ContentType:     &contentType,
		ContentEncoding: &encoding,
		Tagging:         ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("archive raw response s3://%s/%s: %w", a.Bucket, key, err)
	}
	log.Debug().
		Str("key", key).
		Int("raw_bytes", len(raw)).
		Int("stored_bytes", len(body)).
		Msg("Raw response archived")
	return nil
}

// DecodeArchived reverses Archive's compression.
func DecodeArchived(data []byte) (string, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return "", fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("decode archived response: %w", err)
	}
	return string(out), nil
}

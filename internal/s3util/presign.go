// Package s3util holds the S3 helpers shared by the source resolver and the
// raw response archive.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
)

// HeadAPI is the subset of *s3.Client used to check that an object exists.
type HeadAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// PresignAPI is the subset of *s3.PresignClient used to sign GET URLs.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ObjectExists returns nil when bucket/key can be read. A missing object is
// an input error; anything else is classified from the S3 error code.
func ObjectExists(ctx context.Context, client HeadAPI, bucket, key string) error {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) {
			return failure.Permanentf("acquire", "object not found: s3://%s/%s", bucket, key)
		}
		return failure.New(failure.Classify(err), "acquire", fmt.Errorf("S3 HeadObject s3://%s/%s: %w", bucket, key, err))
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", size).Msg("S3 source found")
	return nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presigner PresignAPI, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

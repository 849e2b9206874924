package media

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/s3util"
)

// DefaultURLExpiry keeps signed source URLs valid for a full run.
const DefaultURLExpiry = 4 * time.Hour

// Resolver turns a locator into a URL ffmpeg can seek within.
type Resolver interface {
	Resolve(ctx context.Context, loc Locator) (string, error)
}

// S3Resolver presigns s3:// sources after confirming they exist.
type S3Resolver struct {
	Head      s3util.HeadAPI
	Presigner s3util.PresignAPI
	Expiry    time.Duration
}

// Resolve implements Resolver.
func (r *S3Resolver) Resolve(ctx context.Context, loc Locator) (string, error) {
	if err := s3util.ObjectExists(ctx, r.Head, loc.Bucket, loc.Object); err != nil {
		return "", failure.Wrap("acquire", err)
	}
	u, err := s3util.GeneratePresignedURL(ctx, r.Presigner, loc.Bucket, loc.Object, expiryOr(r.Expiry))
	if err != nil {
		return "", failure.Wrap("acquire", err)
	}
	return u, nil
}

// GCSResolver signs gs:// sources with a V4 signed URL.
type GCSResolver struct {
	Client *storage.Client
	Expiry time.Duration
}

// Resolve implements Resolver.
func (r *GCSResolver) Resolve(ctx context.Context, loc Locator) (string, error) {
	obj := r.Client.Bucket(loc.Bucket).Object(loc.Object)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return "", failure.Wrap("acquire", fmt.Errorf("gcs attrs %s: %w", loc.Raw, err))
	}

	u, err := r.Client.Bucket(loc.Bucket).SignedURL(loc.Object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiryOr(r.Expiry)),
	})
	if err != nil {
		return "", failure.Wrap("acquire", fmt.Errorf("gcs sign %s: %w", loc.Raw, err))
	}
	log.Debug().Str("uri", loc.Raw).Int64("size", attrs.Size).Msg("GCS source signed")
	return u, nil
}

// YouTubeResolver picks the best progressive mp4 stream of a YouTube video.
type YouTubeResolver struct {
	Client *youtube.Client
}

// Resolve implements Resolver.
func (r *YouTubeResolver) Resolve(ctx context.Context, loc Locator) (string, error) {
	client := r.Client
	if client == nil {
		client = &youtube.Client{}
	}
	video, err := client.GetVideoContext(ctx, loc.VideoID)
	if err != nil {
		return "", failure.Wrap("acquire", fmt.Errorf("youtube %s: %w", loc.VideoID, err))
	}

	formats := video.Formats.Type("video/mp4").WithAudioChannels()
	if len(formats) == 0 {
		formats = video.Formats.Type("video/mp4")
	}
	if len(formats) == 0 {
		return "", failure.Permanentf("acquire", "youtube %s: no mp4 stream available", loc.VideoID)
	}
	formats.Sort()

	u, err := client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return "", failure.Wrap("acquire", fmt.Errorf("youtube stream url %s: %w", loc.VideoID, err))
	}
	log.Debug().Str("videoId", loc.VideoID).Str("quality", formats[0].QualityLabel).Msg("YouTube stream resolved")
	return u, nil
}

// HTTPResolver checks that a plain http(s) source answers and passes it
// through unchanged.
type HTTPResolver struct {
	Client *http.Client
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, loc Locator) (string, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, loc.Raw, nil)
	if err != nil {
		return "", failure.Permanentf("acquire", "invalid locator %q: %v", loc.Raw, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", failure.Transientf("acquire", "HEAD %s: %v", loc.Raw, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return loc.Raw, nil
	case resp.StatusCode == http.StatusMethodNotAllowed:
		// Some origins refuse HEAD but serve GET; let ffmpeg find out.
		return loc.Raw, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", failure.Transientf("acquire", "HEAD %s: status %d", loc.Raw, resp.StatusCode)
	}
	return "", failure.Permanentf("acquire", "source %s not found or access denied: status %d", loc.Raw, resp.StatusCode)
}

func expiryOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultURLExpiry
	}
	return d
}

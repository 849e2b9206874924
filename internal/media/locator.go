// Package media turns a video locator and a time window into something the
// extraction model can read: either a pass-through reference to the source
// or a physically extracted clip staged where the model can fetch it.
package media

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/fpang/hand-extractor/internal/failure"
)

// Scheme identifies where a source video lives.
type Scheme string

// Supported source schemes.
const (
	SchemeGCS     Scheme = "gs"
	SchemeS3      Scheme = "s3"
	SchemeHTTP    Scheme = "http"
	SchemeYouTube Scheme = "youtube"
)

// Locator is a parsed source video address.
type Locator struct {
	Raw    string
	Scheme Scheme
	// Bucket and Object are set for gs:// and s3:// locators.
	Bucket string
	Object string
	// VideoID is set for YouTube locators.
	VideoID string
}

func (l Locator) String() string { return l.Raw }

// ParseLocator validates the syntax of a source address. It does not check
// that the source exists.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, invalidLocator(raw, "empty locator")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, invalidLocator(raw, err.Error())
	}

	switch strings.ToLower(u.Scheme) {
	case "gs", "s3":
		object := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || object == "" {
			return Locator{}, invalidLocator(raw, "bucket and object are required")
		}
		return Locator{Raw: raw, Scheme: Scheme(strings.ToLower(u.Scheme)), Bucket: u.Host, Object: object}, nil

	case "http", "https":
		if u.Host == "" {
			return Locator{}, invalidLocator(raw, "host is required")
		}
		if isYouTubeHost(u.Hostname()) {
			id, err := youtube.ExtractVideoID(raw)
			if err != nil {
				return Locator{}, invalidLocator(raw, err.Error())
			}
			return Locator{Raw: raw, Scheme: SchemeYouTube, VideoID: id}, nil
		}
		return Locator{Raw: raw, Scheme: SchemeHTTP}, nil

	case "":
		return Locator{}, invalidLocator(raw, "missing scheme (want gs://, s3://, http:// or https://)")
	}
	return Locator{}, invalidLocator(raw, fmt.Sprintf("unsupported scheme %q", u.Scheme))
}

func isYouTubeHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}

func invalidLocator(raw, reason string) error {
	return failure.Permanentf("validate", "invalid locator %q: %s", raw, reason)
}

package failure

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/aws/smithy-go"
	"github.com/kkdai/youtube/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// permanentPatterns are message fragments that mark an error as not worth
// retrying when no typed error is available.
var permanentPatterns = []string{
	"invalid gcs uri",
	"invalid locator",
	"not found",
	"permission denied",
	"access denied",
	"invalid_argument",
	"bucket not found",
	"object not found",
	"video unavailable",
	"private video",
	"sign in to confirm",
}

// Classify assigns a class to an arbitrary error. Unknown errors are
// transient.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	if errors.Is(err, ErrEmptyResult) {
		return Quality
	}
	if errors.Is(err, context.Canceled) {
		return Config
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, syscall.ENOSPC) {
		return Config
	}

	if code, ok := geminiStatus(err); ok {
		return classifyHTTP(code)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyHTTP(gErr.Code)
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return Input
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound", "AccessDenied", "Forbidden", "InvalidBucketName":
			return Input
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return Config
		}
		return Transient
	}

	if errors.Is(err, youtube.ErrVideoPrivate) ||
		errors.Is(err, youtube.ErrLoginRequired) ||
		errors.Is(err, youtube.ErrNotPlayableInEmbed) ||
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID) ||
		errors.Is(err, youtube.ErrVideoIDMinLength) {
		return Input
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return Input
		}
	}
	return Transient
}

// IsRetryable is shorthand for Classify(err).Retryable().
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// classifyHTTP maps an HTTP status from a cloud API to a class. Quota
// exhaustion is treated as fatal for the run.
func classifyHTTP(code int) Class {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return Config
	case code == http.StatusBadRequest, code == http.StatusNotFound, code == http.StatusUnprocessableEntity:
		return Input
	case code >= 500:
		return Transient
	case code == http.StatusRequestTimeout:
		return Transient
	}
	return Transient
}

func geminiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

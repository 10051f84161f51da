package gdrive

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/yuya-takeyama/crustasync/pkg/backend"
)

// classify maps Drive API failures onto backend error kinds. Drive reports
// quota exhaustion as 403 with a rate limit reason.
func classify(op, path string, err error) error {
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}

	kind := backend.KindFatal
	var gerr *googleapi.Error
	var netErr net.Error
	switch {
	case errors.As(err, &gerr):
		kind = kindForAPIError(gerr)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
		kind = backend.KindTransient
	case errors.As(err, &netErr):
		kind = backend.KindTransient
	}
	return backend.NewError(kind, op, path, err)
}

func kindForAPIError(gerr *googleapi.Error) backend.ErrorKind {
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "sharingRateLimitExceeded":
			return backend.KindRateLimited
		}
	}
	switch {
	case gerr.Code == http.StatusNotFound:
		return backend.KindNotFound
	case gerr.Code == http.StatusTooManyRequests:
		return backend.KindRateLimited
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		return backend.KindPermissionDenied
	case gerr.Code == http.StatusRequestTimeout || gerr.Code >= 500:
		return backend.KindTransient
	}
	return backend.KindFatal
}

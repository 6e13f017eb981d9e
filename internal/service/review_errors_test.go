package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review-api/pkg/archive"
	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/testrunner"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"test timeout", &StageError{Stage: StageStaticCheck, Err: fmt.Errorf("run tests: %w", testrunner.ErrTimeout)}, ErrorTypeExecutionTimeout},
		{"deadline", context.DeadlineExceeded, ErrorTypeExecutionTimeout},
		{"invalid archive", &StageError{Stage: StageExtract, Err: archive.ErrInvalidArchive}, ErrorTypeInvalidArchive},
		{"too large", archive.ErrArchiveTooLarge, ErrorTypeArchiveTooLarge},
		{"unsafe entry", archive.ErrUnsafeEntry, ErrorTypeExtractFailed},
		{"runner missing", testrunner.ErrNotStarted, ErrorTypeTestRunner},
		{"review config", checks.ErrInvalidReviewConfig, ErrorTypeInvalidConfig},
		{"missing file", fmt.Errorf("open: %w", fs.ErrNotExist), ErrorTypeFileNotFound},
		{"permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, ErrorTypePermissionDenied},
		{"disk full", &fs.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, ErrorTypeDiskFull},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorTypeNetwork},
		{"message timeout", errors.New("operation timed out"), ErrorTypeExecutionTimeout},
		{"message pytest", errors.New("pytest crashed"), ErrorTypeTestRunner},
		{"message config", errors.New("bad configuration value"), ErrorTypeMissingConfig},
		{"message download", errors.New("could not fetch repository"), ErrorTypeDownloadFailed},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := ClassifyError(tc.err)
			require.Equal(t, tc.want, info.Type)
			require.NotEmpty(t, info.UserMessage)
			require.NotEmpty(t, info.Suggestion)
			require.Equal(t, tc.err.Error(), info.Technical)
		})
	}
}

func TestClassifyErrorNil(t *testing.T) {
	info := ClassifyError(nil)
	require.Equal(t, ErrorTypeUnknown, info.Type)
	require.Empty(t, info.Technical)
}

func TestErrorCatalogIsComplete(t *testing.T) {
	require.Len(t, errorCatalog, 17)
	for errorType, info := range errorCatalog {
		require.NotEmpty(t, info.Message, errorType)
		require.NotEmpty(t, info.UserMessage, errorType)
		require.NotEmpty(t, info.Suggestion, errorType)
	}
	require.Equal(t, ErrorTypeUnknown, ErrorInfoFor("NOPE").Type)
}

func TestHTTPStatusFor(t *testing.T) {
	require.Equal(t, http.StatusNotFound, HTTPStatusFor(ErrorTypeFileNotFound))
	require.Equal(t, http.StatusForbidden, HTTPStatusFor(ErrorTypePermissionDenied))
	require.Equal(t, http.StatusBadRequest, HTTPStatusFor(ErrorTypeInvalidArchive))
	require.Equal(t, http.StatusBadRequest, HTTPStatusFor(ErrorTypeInvalidData))
	require.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatusFor(ErrorTypeArchiveTooLarge))
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFor(ErrorTypeExecutionTimeout))
}

func TestStageOf(t *testing.T) {
	err := fmt.Errorf("worker: %w", &StageError{Stage: StageDetect, Err: errors.New("boom")})
	require.Equal(t, StageDetect, StageOf(err))
	require.Equal(t, "worker: detect-languages: boom", err.Error())
	require.Empty(t, StageOf(errors.New("plain")))
}

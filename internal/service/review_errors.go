package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/noah-isme/gema-review-api/internal/models"
	"github.com/noah-isme/gema-review-api/internal/repository"
	"github.com/noah-isme/gema-review-api/pkg/archive"
	"github.com/noah-isme/gema-review-api/pkg/checks"
	"github.com/noah-isme/gema-review-api/pkg/docker"
	"github.com/noah-isme/gema-review-api/pkg/testrunner"
)

// Error types reported for failed runs and API calls.
const (
	ErrorTypeFileNotFound     = "FILE_NOT_FOUND"
	ErrorTypePermissionDenied = "PERMISSION_DENIED"
	ErrorTypeDiskFull         = "DISK_FULL"
	ErrorTypeInvalidArchive   = "INVALID_ARCHIVE"
	ErrorTypeArchiveTooLarge  = "ARCHIVE_TOO_LARGE"
	ErrorTypeExtractFailed    = "EXTRACT_FAILED"
	ErrorTypeExecutionTimeout = "EXECUTION_TIMEOUT"
	ErrorTypeExecutionFailed  = "EXECUTION_FAILED"
	ErrorTypeTestRunner       = "TEST_RUNNER_ERROR"
	ErrorTypeMissingConfig    = "MISSING_CONFIG"
	ErrorTypeInvalidConfig    = "INVALID_CONFIG"
	ErrorTypeNetwork          = "NETWORK_ERROR"
	ErrorTypeDownloadFailed   = "DOWNLOAD_FAILED"
	ErrorTypeInvalidData      = "INVALID_DATA"
	ErrorTypeDataCorruption   = "DATA_CORRUPTION"
	ErrorTypeUnknown          = "UNKNOWN_ERROR"
	ErrorTypeSystem           = "SYSTEM_ERROR"
)

var errorCatalog = map[string]models.ErrorInfo{
	ErrorTypeFileNotFound: {
		Message:     "File or directory not found",
		UserMessage: "Required project files could not be found",
		Suggestion:  "Check that the archive contains every required file and is not damaged",
	},
	ErrorTypePermissionDenied: {
		Message:     "Permission denied",
		UserMessage: "Project files could not be accessed",
		Suggestion:  "Check file permissions or upload the project again",
	},
	ErrorTypeDiskFull: {
		Message:     "Not enough disk space",
		UserMessage: "There is not enough space to process the project",
		Suggestion:  "Free up disk space or contact the administrator",
	},
	ErrorTypeInvalidArchive: {
		Message:     "Invalid archive format",
		UserMessage: "The uploaded file is not a valid archive",
		Suggestion:  "Make sure the file is a ZIP archive and is not damaged",
	},
	ErrorTypeArchiveTooLarge: {
		Message:     "Archive is too large",
		UserMessage: "The archive exceeds the allowed size",
		Suggestion:  "Reduce the archive size or remove unnecessary files",
	},
	ErrorTypeExtractFailed: {
		Message:     "Archive extraction failed",
		UserMessage: "The project archive could not be extracted",
		Suggestion:  "Check the archive integrity or create a new one",
	},
	ErrorTypeExecutionTimeout: {
		Message:     "Execution time limit exceeded",
		UserMessage: "The check took too long",
		Suggestion:  "Simplify the code or split the project into smaller parts",
	},
	ErrorTypeExecutionFailed: {
		Message:     "Command execution failed",
		UserMessage: "The code check could not be executed",
		Suggestion:  "Check the code syntax and that every dependency is present",
	},
	ErrorTypeTestRunner: {
		Message:     "Test execution failed",
		UserMessage: "The tests could not be started",
		Suggestion:  "Check that the tests are valid and pytest is installed",
	},
	ErrorTypeMissingConfig: {
		Message:     "Configuration file is missing",
		UserMessage: "The project configuration file was not found",
		Suggestion:  "Add the required configuration files (requirements.txt, pytest.ini and so on)",
	},
	ErrorTypeInvalidConfig: {
		Message:     "Invalid configuration",
		UserMessage: "The project configuration contains errors",
		Suggestion:  "Check the format and content of the configuration files",
	},
	ErrorTypeNetwork: {
		Message:     "Network connection error",
		UserMessage: "The project could not be fetched over the network",
		Suggestion:  "Check the network connection and repository availability",
	},
	ErrorTypeDownloadFailed: {
		Message:     "Download failed",
		UserMessage: "The project could not be downloaded",
		Suggestion:  "Check the repository link and try again later",
	},
	ErrorTypeInvalidData: {
		Message:     "Invalid data",
		UserMessage: "Invalid data was received",
		Suggestion:  "Check the format of the uploaded data",
	},
	ErrorTypeDataCorruption: {
		Message:     "Data corruption",
		UserMessage: "The project data is corrupted",
		Suggestion:  "Upload the project again",
	},
	ErrorTypeUnknown: {
		Message:     "Unknown error",
		UserMessage: "An unexpected error occurred",
		Suggestion:  "Retry the operation or contact the administrator",
	},
	ErrorTypeSystem: {
		Message:     "System error",
		UserMessage: "A temporary system problem occurred",
		Suggestion:  "Try again later or contact the administrator",
	},
}

// ErrorInfoFor returns the catalog entry for errorType, falling back to UNKNOWN_ERROR.
func ErrorInfoFor(errorType string) models.ErrorInfo {
	info, ok := errorCatalog[errorType]
	if !ok {
		errorType = ErrorTypeUnknown
		info = errorCatalog[errorType]
	}
	info.Type = errorType
	return info
}

type sentinelRule struct {
	target    error
	errorType string
}

// Checked before message patterns, in order.
var sentinelRules = []sentinelRule{
	{syscall.ENOSPC, ErrorTypeDiskFull},
	{testrunner.ErrTimeout, ErrorTypeExecutionTimeout},
	{context.DeadlineExceeded, ErrorTypeExecutionTimeout},
	{archive.ErrInvalidArchive, ErrorTypeInvalidArchive},
	{zip.ErrFormat, ErrorTypeInvalidArchive},
	{archive.ErrArchiveTooLarge, ErrorTypeArchiveTooLarge},
	{archive.ErrUnsafeEntry, ErrorTypeExtractFailed},
	{archive.ErrPathEscape, ErrorTypeExtractFailed},
	{archive.ErrWorkDirNotEmpty, ErrorTypeExtractFailed},
	{archive.ErrInvalidIdentifier, ErrorTypeInvalidData},
	{testrunner.ErrNotStarted, ErrorTypeTestRunner},
	{checks.ErrInvalidReviewConfig, ErrorTypeInvalidConfig},
	{docker.ErrImageRequired, ErrorTypeMissingConfig},
	{repository.ErrNotFound, ErrorTypeFileNotFound},
	{fs.ErrNotExist, ErrorTypeFileNotFound},
	{fs.ErrPermission, ErrorTypePermissionDenied},
}

type messageRule struct {
	patterns  []string
	errorType string
}

var messageRules = []messageRule{
	{[]string{"enoent", "not found", "no such file"}, ErrorTypeFileNotFound},
	{[]string{"eacces", "permission denied"}, ErrorTypePermissionDenied},
	{[]string{"enospc", "no space"}, ErrorTypeDiskFull},
	{[]string{"invalid archive", "bad zip", "not a valid zip"}, ErrorTypeInvalidArchive},
	{[]string{"too large", "file too big"}, ErrorTypeArchiveTooLarge},
	{[]string{"extract", "unzip"}, ErrorTypeExtractFailed},
	{[]string{"timeout", "timed out"}, ErrorTypeExecutionTimeout},
	{[]string{"pytest", "test"}, ErrorTypeTestRunner},
	{[]string{"config", "configuration"}, ErrorTypeMissingConfig},
	{[]string{"network", "connection"}, ErrorTypeNetwork},
	{[]string{"download", "fetch"}, ErrorTypeDownloadFailed},
}

// ClassifyError maps err onto the error catalog. Technical carries err's text.
func ClassifyError(err error) models.ErrorInfo {
	if err == nil {
		return ErrorInfoFor(ErrorTypeUnknown)
	}

	info := ErrorInfoFor(classifyType(err))
	info.Technical = err.Error()
	return info
}

func classifyType(err error) string {
	for _, rule := range sentinelRules {
		if errors.Is(err, rule.target) {
			return rule.errorType
		}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ErrorTypeDataCorruption
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return ErrorTypeInvalidData
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorTypeNetwork
	}

	message := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(message, pattern) {
				return rule.errorType
			}
		}
	}

	return ErrorTypeUnknown
}

// HTTPStatusFor maps an error type onto an HTTP status code.
func HTTPStatusFor(errorType string) int {
	switch errorType {
	case ErrorTypeFileNotFound:
		return http.StatusNotFound
	case ErrorTypePermissionDenied:
		return http.StatusForbidden
	case ErrorTypeInvalidArchive, ErrorTypeInvalidData:
		return http.StatusBadRequest
	case ErrorTypeArchiveTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

package errors

import (
	"net/http"
)

// ErrorCode is a string representation of a specific failure condition.
// Codes are namespaced by pipeline component so that a single code is enough
// to attribute a failure to a stage in audit records and metrics labels.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by every layer.
const (
	CodeOK                 ErrorCode = "OK"
	CodeUnknown            ErrorCode = "COMMON_000"
	CodeInternal           ErrorCode = "COMMON_001"
	CodeInvalidParam       ErrorCode = "COMMON_002"
	CodeNotFound           ErrorCode = "COMMON_003"
	CodeConflict           ErrorCode = "COMMON_004"
	CodeTimeout            ErrorCode = "COMMON_005"
	CodeServiceUnavailable ErrorCode = "COMMON_006"
	CodeValidation         ErrorCode = "COMMON_007"
	CodeSerialization      ErrorCode = "COMMON_008"
	CodeDatabaseError      ErrorCode = "COMMON_009"
	CodeCacheError         ErrorCode = "COMMON_010"
	CodeStorageError       ErrorCode = "COMMON_011"
	CodeMessageQueueError  ErrorCode = "COMMON_012"
)

// Structure normalizer error codes.
const (
	CodeStructUnparseable          ErrorCode = "STRUCT_001"
	CodeStructAmbiguousProtonation ErrorCode = "STRUCT_002"
	CodeStructMissingTemplate      ErrorCode = "STRUCT_003"
)

// Ligand parameterizer error codes.  CodeParamToolUnavailable is the only
// transient member of the family; the orchestrator retries it with backoff
// while the other two fail the owning job immediately.
const (
	CodeParamUnsupportedGroup    ErrorCode = "PARAM_001"
	CodeParamChargeMethodFailure ErrorCode = "PARAM_002"
	CodeParamToolUnavailable     ErrorCode = "PARAM_003"
)

// Perturbation map builder error codes.
const (
	CodeMapNoCommonSubstructure ErrorCode = "MAP_001"
	CodeMapRingBreakRejected    ErrorCode = "MAP_002"
	CodeMapPerturbationTooLarge ErrorCode = "MAP_003"
)

// Topology merger error codes.
const (
	CodeMergeIncompatibleParams  ErrorCode = "MERGE_001"
	CodeMergeUnresolvedDummyAtom ErrorCode = "MERGE_002"
	CodeMergeInvalidSchedule     ErrorCode = "MERGE_003"
)

// Pipeline orchestration error codes.
const (
	CodeJobNotFound         ErrorCode = "JOB_001"
	CodeBatchNotFound       ErrorCode = "JOB_002"
	CodeIllegalTransition   ErrorCode = "JOB_003"
	CodeJobCancelled        ErrorCode = "JOB_004"
	CodeRetryExhausted      ErrorCode = "JOB_005"
	CodePrerequisiteFailed  ErrorCode = "JOB_006"
	CodeBatchAlreadyDrained ErrorCode = "JOB_007"
)

// transientCodes is the set of codes the orchestrator is allowed to retry.
// Everything else is permanent: unsupported chemistry does not become
// supported by trying again.
var transientCodes = map[ErrorCode]struct{}{
	CodeParamToolUnavailable: {},
	CodeTimeout:              {},
	CodeServiceUnavailable:   {},
	CodeCacheError:           {},
	CodeMessageQueueError:    {},
}

// IsTransientCode reports whether code identifies a retryable failure.
func IsTransientCode(code ErrorCode) bool {
	_, ok := transientCodes[code]
	return ok
}

// HTTPStatus maps an ErrorCode to the HTTP status the REST surface returns.
// Codes without an explicit entry map to 500.
func HTTPStatus(code ErrorCode) int {
	if s, ok := errorCodeHTTPStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

var errorCodeHTTPStatus = map[ErrorCode]int{
	CodeOK:                 http.StatusOK,
	CodeInternal:           http.StatusInternalServerError,
	CodeInvalidParam:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeValidation:         http.StatusUnprocessableEntity,

	CodeStructUnparseable:          http.StatusUnprocessableEntity,
	CodeStructAmbiguousProtonation: http.StatusUnprocessableEntity,
	CodeStructMissingTemplate:      http.StatusUnprocessableEntity,

	CodeParamUnsupportedGroup:    http.StatusUnprocessableEntity,
	CodeParamChargeMethodFailure: http.StatusUnprocessableEntity,
	CodeParamToolUnavailable:     http.StatusServiceUnavailable,

	CodeMapNoCommonSubstructure: http.StatusUnprocessableEntity,
	CodeMapRingBreakRejected:    http.StatusUnprocessableEntity,
	CodeMapPerturbationTooLarge: http.StatusUnprocessableEntity,

	CodeMergeIncompatibleParams:  http.StatusUnprocessableEntity,
	CodeMergeUnresolvedDummyAtom: http.StatusUnprocessableEntity,
	CodeMergeInvalidSchedule:     http.StatusBadRequest,

	CodeJobNotFound:         http.StatusNotFound,
	CodeBatchNotFound:       http.StatusNotFound,
	CodeJobCancelled:        http.StatusConflict,
	CodeBatchAlreadyDrained: http.StatusConflict,
}

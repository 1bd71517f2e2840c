package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, never
// on messages. Generic codes mirror the HTTP status; the rest name presence
// conditions the status alone cannot convey.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// ErrCodeTooManyIDs: a batch lookup exceeded STATUS_BATCH_MAX.
	ErrCodeTooManyIDs = "too_many_ids"
	// ErrCodeStoreUnavailable: the presence store failed and nothing cached
	// could answer.
	ErrCodeStoreUnavailable = "store_unavailable"
	// ErrCodeListFailed: call history could not be read.
	ErrCodeListFailed = "list_failed"
)

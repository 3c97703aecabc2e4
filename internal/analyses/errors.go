package analyses

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnreadableDocument = errors.New("document contains no readable text")
	ErrPipelineFailure    = errors.New("analysis pipeline failed")
)

const (
	ErrorCodeValidation = "validation_error"
	ErrorCodeUnreadable = "unreadable_document"
	ErrorCodeNotFound   = "not_found"
	ErrorCodePipeline   = "pipeline_error"
	ErrorCodeInternal   = "internal_error"
)

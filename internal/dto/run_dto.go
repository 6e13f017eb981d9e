package dto

// RunCreateRequest is the JSON body used to enqueue a review run.
type RunCreateRequest struct {
	Toolchain string `json:"toolchain" validate:"omitempty,max=32,alphanum"`
}

// ErrorResponse is the body returned for classified pipeline errors.
type ErrorResponse struct {
	UserMessage string `json:"userMessage"`
	Suggestion  string `json:"suggestion"`
}

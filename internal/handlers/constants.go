package handlers

// Common error message constants shared across handlers
const (
	ErrMsgInvalidRequestBody = "Invalid request body"
	ErrMsgInvalidCredentials = "Invalid credentials"
	ErrMsgUnauthorized       = "Unauthorized"
	ErrMsgUserNotFound       = "User not found"
	ErrMsgKPINotFound        = "KPI not found"
	ErrMsgTopicNotFound      = "Topic not found"
	ErrMsgApprovalNotFound   = "Approval not found"
	ErrMsgInvalidID          = "Invalid ID"
	ErrMsgInternalError      = "Internal server error"
)

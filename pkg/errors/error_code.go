package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrderRequest  ErrorCode = 102
	ErrCodeInvalidQuantity      ErrorCode = 103
	ErrCodeInvalidPrice         ErrorCode = 104
	ErrCodeInvalidPeriod        ErrorCode = 105
	ErrCodeInsufficientData     ErrorCode = 106
	ErrCodeInvalidType          ErrorCode = 107
	ErrCodeMissingParameter     ErrorCode = 108

	// Gateway and order errors (200-299)
	ErrCodeGatewayUnavailable ErrorCode = 200
	ErrCodeOrderSubmitFailed  ErrorCode = 201
	ErrCodeOrderCancelFailed  ErrorCode = 202
	ErrCodeOrderNotFound      ErrorCode = 203
	ErrCodeAccountFetchFailed ErrorCode = 204

	// Stream errors (300-399)
	ErrCodeStreamSubscribeFailed ErrorCode = 300
	ErrCodeStreamSuspended       ErrorCode = 301
	ErrCodeStreamParseFailed     ErrorCode = 302

	// Strategy errors (400-499)
	ErrCodeUnknownStrategy      ErrorCode = 400
	ErrCodeStrategyRegistration ErrorCode = 401

	// Monitor errors (500-599)
	ErrCodeMonitorStopped    ErrorCode = 500
	ErrCodePositionNotFound  ErrorCode = 501
	ErrCodeIndicatorNotFound ErrorCode = 502

	// Config errors (600-699)
	ErrCodeConfigReadFailed  ErrorCode = 600
	ErrCodeConfigParseFailed ErrorCode = 601
)

package services

import "net/http"

// ServiceError carries an HTTP status and a stable machine-readable code
// alongside the human-readable message.
type ServiceError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Stable error codes surfaced in API responses.
const (
	CodeValidation             = "validation_error"
	CodeNotFound               = "not_found"
	CodeConcurrentModification = "concurrent_modification"
	CodeCheckoutInProgress     = "checkout_in_progress"
	CodeInsufficientStock      = "insufficient_stock"
	CodePriceChanged           = "price_changed"
	CodeProductUnavailable     = "product_unavailable"
	CodeCatalogUnavailable     = "catalog_unavailable"
	CodePaymentDeclined        = "payment_declined"
	CodePaymentError           = "payment_error"
	CodeEmptyCart              = "empty_cart"
	CodeTimeout                = "timeout"
	CodeDuplicateOrder         = "duplicate_order"
	CodeInternal               = "internal_error"
)

func errInternal(msg string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusInternalServerError, Code: CodeInternal, Message: msg}
}

func errConflict(code, msg string) *ServiceError {
	return &ServiceError{StatusCode: http.StatusConflict, Code: code, Message: msg}
}

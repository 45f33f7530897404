package app

import "fmt"

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func accessDenied() *DomainError {
	return &DomainError{Status: 403, Code: "ACCESS_DENIED", Message: "Access denied"}
}

func notFound(message string) *DomainError {
	return &DomainError{Status: 404, Code: "NOT_FOUND", Message: message}
}

func tokenNotFound() *DomainError {
	return &DomainError{Status: 404, Code: "TOKEN_NOT_FOUND", Message: "Share link not found"}
}

func tokenExpired() *DomainError {
	return &DomainError{Status: 410, Code: "TOKEN_EXPIRED", Message: "Share link expired"}
}

func notShared() *DomainError {
	return &DomainError{Status: 409, Code: "NOT_SHARED", Message: "Document is not shared"}
}

func invalidCapability(capability string) *DomainError {
	return &DomainError{
		Status:  422,
		Code:    "INVALID_CAPABILITY",
		Message: fmt.Sprintf("Capability %q cannot back a share link", capability),
	}
}

func linkPasswordRequired() *DomainError {
	return &DomainError{Status: 401, Code: "LINK_PASSWORD_REQUIRED", Message: "This share link requires a password"}
}

func validationError(err error) *DomainError {
	return &DomainError{Status: 422, Code: "VALIDATION_ERROR", Message: err.Error()}
}

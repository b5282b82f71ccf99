package handler

import (
	"net/http"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindDecode:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

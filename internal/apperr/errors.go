// Package apperr 定义业务错误分类，以及错误码到 HTTP 状态码的映射。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 业务错误码
type Code string

const (
	CodeValidation    Code = "VALIDATION"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	CodeStore         Code = "STORE"
	CodeProvider      Code = "PROVIDER"
)

// AppError 携带错误码、面向操作者的中文消息以及底层原因
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New 创建不带底层原因的错误
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap 创建携带底层原因的错误
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func Unauthorized(msg string) error {
	return New(CodeUnauthorized, msg)
}

func Forbidden(msg string) error {
	return New(CodeForbidden, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func QuotaExceeded(msg string) error {
	return New(CodeQuotaExceeded, msg)
}

// Store 包装存储层故障
func Store(msg string, cause error) error {
	return Wrap(CodeStore, msg, cause)
}

// Provider 包装发件服务商故障
func Provider(msg string, cause error) error {
	return Wrap(CodeProvider, msg, cause)
}

// As 提取错误链中的 AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 判断错误链中是否存在指定错误码的 AppError
func Is(err error, code Code) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// HTTPStatus 返回错误对应的 HTTP 状态码，未分类错误视为 500
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeValidation, CodeQuotaExceeded:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Message 返回面向操作者的消息；未分类错误返回 fallback
func Message(err error, fallback string) string {
	appErr, ok := As(err)
	if !ok || appErr.Message == "" {
		return fallback
	}
	return appErr.Message
}

package errors

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
)

// ErrorTranslator 错误转换器
// 将流水线各环节抛出的原始错误归类为AppError
type ErrorTranslator struct{}

// NewErrorTranslator 创建错误转换器
func NewErrorTranslator() *ErrorTranslator {
	return &ErrorTranslator{}
}

// Translate 将各种类型的错误转换为AppError
func (t *ErrorTranslator) Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	// 错误链中已有AppError则直接复用
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return t.translateValidationErrors(validationErrors)
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return t.translateNetworkError(netErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return t.translateTimeout(err)
	}

	if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "record not found") {
		return NewNotFoundError("resource").WithCause(err)
	}

	if t.isPipelineBackendError(err) {
		return t.translatePipelineError(err)
	}

	if t.isDatabaseError(err) {
		return t.translateDatabaseError(err)
	}

	return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
}

// translateTimeout 按超时发生的环节归类
func (t *ErrorTranslator) translateTimeout(err error) *AppError {
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "embedding") {
		return NewEmbeddingBackendError("Embedding backend timed out", err)
	}
	if strings.Contains(errMsg, "generation") || strings.Contains(errMsg, "completion") {
		return NewGeneratorTimeout("Answer generation timed out", err)
	}
	return NewSystemError(ErrCodeExternalService, "Operation timed out").WithCause(err)
}

// isPipelineBackendError 检查是否为向量化/生成环节的上游错误
func (t *ErrorTranslator) isPipelineBackendError(err error) bool {
	errMsg := strings.ToLower(err.Error())
	for _, keyword := range []string{"embedding", "completion", "generation", "openai", "milvus"} {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}

// translatePipelineError 归类流水线上游错误
func (t *ErrorTranslator) translatePipelineError(err error) *AppError {
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "embedding") || strings.Contains(errMsg, "milvus") {
		return NewEmbeddingBackendError("Embedding backend error", err)
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline") {
		return NewGeneratorTimeout("Answer generation timed out", err)
	}
	return NewGeneratorError("Answer generation failed", err)
}

// translateValidationErrors 转换验证错误
func (t *ErrorTranslator) translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	var details []map[string]interface{}

	for _, fieldError := range validationErrors {
		detail := map[string]interface{}{
			"field":   fieldError.Field(),
			"tag":     fieldError.Tag(),
			"message": t.getValidationErrorMessage(fieldError),
		}
		details = append(details, detail)
	}

	return NewValidationError("Validation failed").
		WithDetails(map[string]interface{}{
			"errors": details,
		})
}

// translateNetworkError 转换网络错误
func (t *ErrorTranslator) translateNetworkError(netErr *net.OpError) *AppError {
	if netErr.Timeout() {
		return NewSystemError(ErrCodeExternalService, "Operation timed out").WithCause(netErr)
	}
	return NewSystemError(ErrCodeExternalService, "Network error").WithCause(netErr)
}

// translateDatabaseError 转换数据库错误
func (t *ErrorTranslator) translateDatabaseError(err error) *AppError {
	errMsg := err.Error()

	if strings.Contains(errMsg, "duplicate key value") || strings.Contains(errMsg, "violates unique constraint") {
		return NewBusinessError(ErrCodeConflict, "Resource already exists").WithCause(err)
	}
	if strings.Contains(errMsg, "violates foreign key constraint") {
		return NewBusinessError(ErrCodeBadRequest, "Invalid reference").WithCause(err)
	}
	if strings.Contains(errMsg, "violates not-null constraint") {
		return NewBusinessError(ErrCodeBadRequest, "Required field is missing").WithCause(err)
	}
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") {
		return NewSystemError(ErrCodeDatabaseError, "Database connection failed").WithCause(err)
	}

	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		return NewSystemError(ErrCodeDatabaseError, "Database migration in dirty state").WithCause(err)
	}

	return NewSystemError(ErrCodeDatabaseError, "Database operation failed").WithCause(err)
}

// isDatabaseError 检查是否为数据库错误
func (t *ErrorTranslator) isDatabaseError(err error) bool {
	errMsg := strings.ToLower(err.Error())

	databaseKeywords := []string{
		"pq:", "postgresql", "sql", "database", "relation", "column",
		"constraint", "duplicate key", "migration", "migrate",
	}
	for _, keyword := range databaseKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}
	return false
}

// getValidationErrorMessage 获取验证错误消息
func (t *ErrorTranslator) getValidationErrorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return field + " must be greater than " + fieldError.Param()
	case "gte":
		return field + " must be greater than or equal to " + fieldError.Param()
	case "lte":
		return field + " must be less than or equal to " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}

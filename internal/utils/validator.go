package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// InitValidator 初始化验证器
func InitValidator() {
	validate = validator.New()

	// 注册自定义验证函数
	validate.RegisterValidation("severity", validateSeverity)
}

// GetValidator 获取验证器实例
func GetValidator() *validator.Validate {
	if validate == nil {
		InitValidator()
	}
	return validate
}

// validateSeverity 验证漏洞严重级别
func validateSeverity(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "critical", "high", "medium", "low", "info":
		return true
	default:
		return false
	}
}

// ValidateStruct 验证结构体
func ValidateStruct(s interface{}) error {
	v := GetValidator()
	if err := v.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError 格式化验证错误
func formatValidationError(err error) error {
	var msgs []string

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			var message string
			switch e.Tag() {
			case "required":
				message = fmt.Sprintf("%s 是必填字段", e.Field())
			case "severity":
				message = fmt.Sprintf("%s 不是合法的严重级别: %v", e.Field(), e.Value())
			default:
				message = fmt.Sprintf("%s 校验失败(%s)", e.Field(), e.Tag())
			}
			msgs = append(msgs, message)
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return err
}

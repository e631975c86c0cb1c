// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const maxReferralCodeLength = 32

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct проверяет структуру по тегам validate и возвращает ошибку с перечнем
// нарушенных правил.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
}

// NormalizeReferralCode убирает пробелы по краям и приводит код к верхнему регистру.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsReferralCodeFormat проверяет, что нормализованный код состоит из заглавных латинских
// букв, цифр и дефисов и не длиннее допустимого.
func IsReferralCodeFormat(code string) bool {
	if code == "" || len(code) > maxReferralCodeLength {
		return false
	}
	if code[0] == '-' || code[len(code)-1] == '-' {
		return false
	}

	for _, ch := range code {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsUpper(ch) && !unicode.IsDigit(ch) && ch != '-' {
			return false
		}
	}

	return true
}

// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator"

	"github.com/mmeshcher/pointmarket/internal/model"
)

// ErrInvalid возвращается, если запрос не прошёл проверку.
var ErrInvalid = errors.New("validation failed")

// Validator проверяет структуры запросов по тегам validate.
// Кроме стандартных тегов поддерживает доменные теги order_status, mission_status,
// item_type и member_role.
type Validator struct {
	v *validator.Validate
}

// New создаёт валидатор с зарегистрированными доменными тегами.
func New() *Validator {
	v := validator.New()

	mustRegister(v, "order_status", func(fl validator.FieldLevel) bool {
		return model.OrderStatus(fl.Field().String()).Valid()
	})
	mustRegister(v, "mission_status", func(fl validator.FieldLevel) bool {
		return model.MissionStatus(fl.Field().String()).Reviewable()
	})
	mustRegister(v, "item_type", func(fl validator.FieldLevel) bool {
		return model.ItemType(fl.Field().String()).Valid()
	})
	mustRegister(v, "member_role", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || model.Role(s).Valid()
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// Struct проверяет s и возвращает ошибку с человекочитаемым описанием нарушений.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return fmt.Errorf("%w: %s", ErrInvalid, describe(fieldErrs))
}

func describe(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		field := err.Field()
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", field))
		case "gt", "gte", "min":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s", field, minimum(err)))
		case "max":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s", field, err.Param()))
		case "order_status":
			msgs = append(msgs, fmt.Sprintf("field %s is not a known order status", field))
		case "mission_status":
			msgs = append(msgs, fmt.Sprintf("field %s must be pending, approved or rejected", field))
		case "item_type":
			msgs = append(msgs, fmt.Sprintf("field %s must be buy or rent", field))
		case "member_role":
			msgs = append(msgs, fmt.Sprintf("field %s must be admin or user", field))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", field))
		}
	}
	return strings.Join(msgs, ", ")
}

func minimum(err validator.FieldError) string {
	if err.ActualTag() == "gt" {
		return "greater than " + err.Param()
	}
	return err.Param()
}

package api

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"rewarder/models"
)

// refPattern restricts external, merchant, user and campaign references
var refPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

var registerOnce sync.Once

// registerValidators adds the custom binding tags to gin's validator
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("ref", func(fl validator.FieldLevel) bool {
			return refPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
			_, err := parseAmount(fl.Field().String())
			return err == nil
		})
	})
}

// parseAmount converts a positive decimal string into minor units
func parseAmount(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a decimal", raw)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive")
	}
	return models.ToMinorUnits(amount)
}

// describeBindError flattens validator errors into "field: tag" pairs
func describeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

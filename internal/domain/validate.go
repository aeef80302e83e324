package domain

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidGoal   = errors.New("goal must be between 3 and 100 characters")
	ErrInvalidPledge = errors.New("pledge must be a number between 0 and 1000")
	ErrInvalidID     = errors.New("participant id is required")
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
	})
	return validate
}

// Validate checks the participant's registration fields.
func (p *Participant) Validate() error {
	err := validatorInstance().Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	switch fieldErrs[0].Field() {
	case "Goal":
		return ErrInvalidGoal
	case "Pledge":
		return ErrInvalidPledge
	case "ID":
		return ErrInvalidID
	}
	return err
}

// ValidateGoal trims and checks goal text.
func ValidateGoal(goal string) (string, error) {
	goal = strings.TrimSpace(goal)
	if err := validatorInstance().Var(goal, "min=3,max=100"); err != nil {
		return "", ErrInvalidGoal
	}
	return goal, nil
}

// ParsePledge parses a pledge amount and checks it is within [0, 1000].
func ParsePledge(raw string) (decimal.Decimal, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidPledge
	}
	if amount.IsNegative() || amount.GreaterThan(MaxPledge) {
		return decimal.Zero, ErrInvalidPledge
	}
	return amount, nil
}

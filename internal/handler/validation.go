package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
)

var validate = newValidator()

// newValidator reports fields by their JSON names and adds the amount rules
// used by the request bodies.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "positive_amount", func(d decimal.Decimal) bool { return d.IsPositive() })
	mustRegister(v, "nonnegative_amount", func(d decimal.Decimal) bool { return !d.IsNegative() })
	return v
}

// mustRegister adds a rule over json.Number fields. Empty values pass; the
// required tag handles presence.
func mustRegister(v *validator.Validate, tag string, ok func(decimal.Decimal) bool) {
	err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return false
		}
		return ok(d)
	})
	if err != nil {
		panic(fmt.Sprintf("register %s: %v", tag, err))
	}
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.InvalidInput("body", "malformed JSON: "+err.Error())
	}
	return validateStruct(dst)
}

func validateStruct(dst interface{}) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.InvalidInput(fe.Field(), "failed '"+fe.Tag()+"' rule")
	}
	return errors.InvalidInput("body", err.Error())
}

// amount converts a validated JSON number; an empty value is zero.
func amount(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero
	}
	return d
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	appErrors "mnemo-backend/internal/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeBody unmarshals the request body into dst and checks its validate
// tags, so malformed requests fail before touching the gateway.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return appErrors.NewValidation("invalid request body")
	}
	return validateStruct(dst)
}

// decodeOptionalBody is decodeBody for endpoints where an empty body means
// "all defaults".
func decodeOptionalBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return appErrors.NewValidation("invalid request body")
	}
	return validateStruct(dst)
}

func validateStruct(dst any) error {
	if err := validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return appErrors.NewInternal("request validation misconfigured", err)
		}
		return appErrors.NewValidation(err.Error())
	}
	return nil
}

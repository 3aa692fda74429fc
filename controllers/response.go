package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/models"
)

const (
	requestTimeout = 30 * time.Second
	batchTimeout   = 30 * time.Minute
)

// CustomValidator plugs go-playground/validator into echo's c.Validate.
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// batchContext outlives a dropped client connection so a started batch runs to the end.
func batchContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request().Context()), batchTimeout)
}

func ok(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, models.Response{
		Status:  http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// fail answers with the status the error kind maps to. Internal errors hide their detail.
func fail(c echo.Context, err error) error {
	status := models.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		message = "Internal server error"
	}
	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
	})
}

func badRequest(c echo.Context, message string, err error) error {
	resp := models.Response{
		Status:  http.StatusBadRequest,
		Message: message,
	}
	if err != nil {
		resp.Data = err.Error()
	}
	return c.JSON(http.StatusBadRequest, resp)
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

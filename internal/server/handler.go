// Package server provides the WebSocket command handlers for the level meter.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
)

// validate checks WebSocket and REST request bodies. Field errors carry the
// JSON name the client sent.
var validate = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateRequest validates a decoded request and converts validator errors
// into a ValidationError keyed by JSON field name.
func ValidateRequest(data any) error {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}

	verr := types.NewValidationError()
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, e := range fieldErrs {
			verr.Add(e.Field(), config.FormatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}
	return verr
}

// DecodeAndValidate fills data from the command payload. On failure it has
// already answered the client and returns false.
func DecodeAndValidate[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) == 0 {
		SendError(send, cmd.Type, errors.New("missing command data"))
		return false
	}
	if err := json.Unmarshal(cmd.Data, data); err != nil {
		SendError(send, cmd.Type, fmt.Errorf("invalid JSON: %w", err))
		return false
	}

	if err := ValidateRequest(data); err != nil {
		SendValidationErrors(send, cmd.Type, err)
		return false
	}

	return true
}

// HandleCommand runs process on a decoded, valid payload and answers the
// client with its outcome.
func HandleCommand[T any](cmd WSCommand, send chan<- any, process func(*T) error) {
	var data T
	if !DecodeAndValidate(cmd, send, &data) {
		return
	}

	if err := process(&data); err != nil {
		SendError(send, cmd.Type, err)
		return
	}

	SendSuccess(send, cmd.Type, nil)
}

// HandleActionAsync runs action on its own goroutine, for commands that may
// block on capture devices or the network. A panic is answered as an error.
func HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("command panicked", "command", cmd.Type, "panic", r)
				SendError(send, cmd.Type, errors.New("internal error"))
			}
		}()

		result, err := action()
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, result)
	}()
}

// SendSuccess answers cmdType with success and optional data.
func SendSuccess(send chan<- any, cmdType string, data any) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: true,
		Data:    data,
	})
}

// SendError answers cmdType with a failure message.
func SendError(send chan<- any, cmdType string, err error) {
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: false,
		Message: err.Error(),
	})
}

// SendValidationErrors sends the field errors of a failed validation.
func SendValidationErrors(send chan<- any, cmdType string, err error) {
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		verr = types.NewValidationError()
		verr.Add("", err.Error(), nil)
	}
	trySend(send, cmdType, types.WSCommandResult{
		Type:    cmdType + "_result",
		Success: false,
		Error:   verr,
		Message: verr.Error(),
	})
}

// SendData sends a message that is not a command result, such as a test result.
func SendData(send chan<- any, data any) {
	trySend(send, "data", data)
}

// trySend attempts to send a message, logging a warning if the channel is full.
// An async result may arrive after the client left and send was closed.
func trySend(send chan<- any, cmdType string, msg any) {
	defer func() {
		if recover() != nil {
			slog.Debug("dropped response for closed connection", "type", cmdType)
		}
	}()
	select {
	case send <- msg:
	default:
		slog.Warn("dropped command response, client is not reading", "type", cmdType)
	}
}

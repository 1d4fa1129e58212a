package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/vocdoni/fhevm-go/api"
	"github.com/vocdoni/fhevm-go/types"
)

// codeErrors maps gateway error codes to the error taxonomy.
var codeErrors = map[int]error{
	api.ErrUnauthorized.Code:     types.ErrUnauthorized,
	api.ErrInvalidSignature.Code: types.ErrUnauthorized,
	api.ErrHandleNotFound.Code:   types.ErrUnknownHandle,
	api.ErrMalformedHandle.Code:  types.ErrInvalidHandle,
	api.ErrValueOutOfRange.Code:  types.ErrValueOutOfRange,
	api.ErrUnsupportedType.Code:  types.ErrUnsupportedType,
	api.ErrMalformedAddress.Code: types.ErrInvalidAddress,
}

// mapHTTPError turns a failed gateway response into an error of the
// taxonomy. Responses without a known code are backend failures.
func mapHTTPError(op string, resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if apiErr, ok := resp.Error().(*api.ErrorResponse); ok && apiErr.Code != 0 {
		if sentinel, ok := codeErrors[apiErr.Code]; ok {
			return fmt.Errorf("%w: %s", sentinel, apiErr.Error)
		}
		msg = fmt.Sprintf("%s (code %d)", apiErr.Error, apiErr.Code)
	}
	switch resp.StatusCode() {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", types.ErrUnauthorized, msg)
	default:
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return fmt.Errorf("%w: %s: http %d: %s", types.ErrBackendFailure, op, resp.StatusCode(), msg)
	}
}

// transportError tags a failed round trip as a backend failure, keeping
// context errors distinguishable.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", types.ErrBackendFailure, op, err)
}

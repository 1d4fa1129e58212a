package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
)

// httpWriteJSON helper function allows to write a JSON response.
func httpWriteJSON(w http.ResponseWriter, data any) {
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(jdata)
	if err != nil {
		log.Warnw("failed to write http response", "error", err)
		return
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
		return
	}
	if !DisabledLogging && log.Level() == log.LogLevelDebug {
		log.Debugw("api response", "bytes", n, "data", strings.ReplaceAll(string(jdata), "\"", ""))
	}
}

// httpWriteOK helper function allows to write an OK response.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// decodeBody decodes the JSON request body into v, writing the error
// response and returning false when it is malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return false
	}
	return true
}

// parseAddress validates a hex address, writing the error response and
// returning false when it is malformed.
func parseAddress(w http.ResponseWriter, field, s string) (common.Address, bool) {
	addr, err := types.ParseAddress(s)
	if err != nil {
		ErrMalformedAddress.Withf("%s: %v", field, err).Write(w)
		return common.Address{}, false
	}
	return addr, true
}

// parseHandle validates a hex handle, writing the error response and
// returning false when it is malformed.
func parseHandle(w http.ResponseWriter, field, s string) (types.Handle, bool) {
	h, err := types.HexStringToHandle(s)
	if err == nil {
		err = h.Validate()
	}
	if err != nil {
		ErrMalformedHandle.Withf("%s: %v", field, err).Write(w)
		return types.Handle{}, false
	}
	return h, true
}

// writeError maps errors returned by the coprocessor to their API error.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		ErrUnauthorized.WithErr(err).Write(w)
	case errors.Is(err, types.ErrUnknownHandle):
		ErrHandleNotFound.WithErr(err).Write(w)
	case errors.Is(err, types.ErrInvalidHandle):
		ErrMalformedHandle.WithErr(err).Write(w)
	case errors.Is(err, types.ErrValueOutOfRange):
		ErrValueOutOfRange.WithErr(err).Write(w)
	case errors.Is(err, types.ErrUnsupportedType):
		ErrUnsupportedType.WithErr(err).Write(w)
	case errors.Is(err, types.ErrInvalidAddress):
		ErrMalformedAddress.WithErr(err).Write(w)
	case errors.Is(err, coprocessor.ErrInvalidRequest):
		ErrInvalidRequest.WithErr(err).Write(w)
	default:
		log.Warnw("request failed", "error", err)
		ErrGenericInternalServerError.WithErr(err).Write(w)
	}
}

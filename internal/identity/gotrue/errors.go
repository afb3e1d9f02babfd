package gotrue

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/placelists/placelists/internal/auth"
)

// errorBody covers both error envelopes the API has used: the current
// {code, error_code, msg} and the OAuth-style {error, error_description}.
type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(resp *http.Response) *auth.ProviderError {
	pe := &auth.ProviderError{Status: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		pe.Message = http.StatusText(resp.StatusCode)
		return pe
	}

	pe.Code = firstNonEmpty(body.ErrorCode, body.Error)
	pe.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error, http.StatusText(resp.StatusCode))

	// Older servers report bad credentials as an OAuth invalid_grant.
	if pe.Code == "invalid_grant" && pe.Message == "Invalid login credentials" {
		pe.Code = auth.ProviderCodeInvalidCredentials
	}
	return pe
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package transcribe

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const incompatibleFormatMessage = "response_format 'diarized_json' is not compatible with model"

// CapabilityMismatchError reports that the deployed model rejected the requested
// response format. The uploader handles it internally by degrading the format.
type CapabilityMismatchError struct {
	Format string
	Body   string
}

func (e *CapabilityMismatchError) Error() string {
	return fmt.Sprintf("response_format %q not supported by model: %s", e.Format, strings.TrimSpace(e.Body))
}

type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Param   string `json:"param"`
		Message string `json:"message"`
	} `json:"error"`
}

// isCapabilityMismatch recognises the 400 response that rejects diarized_json, either as
// a structured unsupported_value error or by its plain-text message.
func isCapabilityMismatch(status int, body []byte) bool {
	if status != http.StatusBadRequest {
		return false
	}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		e := envelope.Error
		if e.Code == "unsupported_value" && e.Param == "response_format" && strings.Contains(e.Message, string(FormatDiarizedJSON)) {
			return true
		}
	}
	return strings.Contains(string(body), incompatibleFormatMessage)
}

package safebrowse

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxURLsPerRequest bounds one batch lookup.
const MaxURLsPerRequest = 500

type lookupRequest struct {
	URLs []string `validate:"required,min=1,max=500,dive,required,max=2048"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseLookupRequest decodes a `{"urls": [...]}` body.
//
// Shape problems are reported as ValidationError with the decoded request
// echoed in data so clients can see what the server received.
func ParseLookupRequest(body []byte) ([]string, error) {
	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, Validation("Request body is not valid JSON", nil)
	}
	echo := map[string]any{"request": top}

	obj, ok := top.(map[string]any)
	if !ok {
		return nil, Validation("Expected request body to be a JSON dictionary", echo)
	}
	rawURLs, ok := obj["urls"]
	if !ok {
		return nil, Validation(`Request body missing required field "urls"`, echo)
	}
	list, ok := rawURLs.([]any)
	if !ok {
		return nil, Validation(`Invalid request format. "urls" must be a list`, echo)
	}
	if len(list) == 0 {
		return nil, Validation("Invalid request format. Empty list of urls", echo)
	}

	req := lookupRequest{URLs: make([]string, 0, len(list))}
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, Validation(fmt.Sprintf(`Invalid request format. "urls"[%d] must be a string`, i), echo)
		}
		req.URLs = append(req.URLs, s)
	}

	if err := validate.Struct(req); err != nil {
		return nil, Validation(describeValidation(err), echo)
	}
	return req.URLs, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request format"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "max":
		if fe.Field() == "URLs" {
			return fmt.Sprintf("Invalid request format. At most %d urls per request", MaxURLsPerRequest)
		}
		return fmt.Sprintf("Invalid request format. %s exceeds %s characters", fe.Namespace(), fe.Param())
	case "required":
		return fmt.Sprintf("Invalid request format. %s must not be empty", fe.Namespace())
	default:
		return fmt.Sprintf("Invalid request format. %s failed %q", fe.Namespace(), fe.Tag())
	}
}

package safebrowse

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseLookupRequest(t *testing.T) {
	urls, err := ParseLookupRequest([]byte(`{"urls":["http://good.com","bad.com"]}`))
	if err != nil {
		t.Fatalf("ParseLookupRequest: %v", err)
	}
	if len(urls) != 2 || urls[1] != "bad.com" {
		t.Fatalf("urls: %v", urls)
	}
}

func TestParseLookupRequest_Invalid(t *testing.T) {
	tooMany := make([]string, MaxURLsPerRequest+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf(`"http://%d.com"`, i)
	}

	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"not json", `{`, "not valid JSON"},
		{"not an object", `["http://a.com"]`, "JSON dictionary"},
		{"missing urls", `{"url":"http://a.com"}`, `missing required field "urls"`},
		{"urls not a list", `{"urls":"http://a.com"}`, "must be a list"},
		{"empty list", `{"urls":[]}`, "Empty list of urls"},
		{"non string item", `{"urls":["http://a.com", 3]}`, `"urls"[1] must be a string`},
		{"empty string", `{"urls":[""]}`, "must not be empty"},
		{"too long", `{"urls":["` + strings.Repeat("a", 2049) + `"]}`, "exceeds 2048"},
		{"too many", `{"urls":[` + strings.Join(tooMany, ",") + `]}`, "At most 500 urls"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseLookupRequest([]byte(tc.body))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
			var e *Error
			if !errors.As(err, &e) || e.Code != 400 {
				t.Fatalf("want 400 *Error, got %#v", err)
			}
			if !strings.Contains(e.Message, tc.msg) {
				t.Fatalf("message %q does not contain %q", e.Message, tc.msg)
			}
		})
	}
}

func TestParseLookupRequest_EchoesRequest(t *testing.T) {
	_, err := ParseLookupRequest([]byte(`{"urls":"nope"}`))
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("want *Error, got %v", err)
	}
	req, ok := e.Data["request"].(map[string]any)
	if !ok || req["urls"] != "nope" {
		t.Fatalf("data.request: %#v", e.Data)
	}
}

func TestAsError(t *testing.T) {
	if AsError(nil) != nil {
		t.Fatalf("AsError(nil) should be nil")
	}
	v := Validation("bad", nil)
	if AsError(fmt.Errorf("wrap: %w", v)) != v {
		t.Fatalf("AsError should unwrap *Error")
	}
	e := AsError(errors.New("boom"))
	if !errors.Is(e, ErrInternal) || e.Code != 500 || e.Data["traceback"] == nil {
		t.Fatalf("AsError(plain): %#v", e)
	}
}

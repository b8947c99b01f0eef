package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidURL is returned for strings that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid url")

var validate = newValidator()

// newValidator reports field errors by their json names, e.g. "urls[1]".
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ImportRequest 单个URL导入请求
type ImportRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

// DiscoverRequest 站点链接发现请求
type DiscoverRequest struct {
	URL    string `json:"url" validate:"required,http_url"`
	Search string `json:"search,omitempty"`
}

// BulkImportRequest 批量导入请求
type BulkImportRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,http_url"`
}

// NormalizeURL trims raw and checks it is an absolute http(s) URL with a host.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	if err := validate.Var(s, "http_url"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, s)
	}
	return s, nil
}

// urlError maps a validation failure onto ErrInvalidURL, keeping the field path.
func urlError(err error, value func(field string) string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidURL, fe.Field())
	case "min":
		return fmt.Errorf("%w: at least one url is required", ErrInvalidURL)
	}
	if fe.Field() == "url" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, value(fe.Field()))
	}
	return fmt.Errorf("%s: %w: %q", fe.Field(), ErrInvalidURL, value(fe.Field()))
}

// Validate normalizes and checks the request in place.
func (r *ImportRequest) Validate() error {
	candidate := ImportRequest{URL: strings.TrimSpace(r.URL)}
	if err := validate.Struct(candidate); err != nil {
		return urlError(err, func(string) string { return candidate.URL })
	}
	*r = candidate
	return nil
}

func (r *DiscoverRequest) Validate() error {
	candidate := DiscoverRequest{
		URL:    strings.TrimSpace(r.URL),
		Search: strings.TrimSpace(r.Search),
	}
	if err := validate.Struct(candidate); err != nil {
		return urlError(err, func(string) string { return candidate.URL })
	}
	*r = candidate
	return nil
}

// Validate checks every URL; on failure the request is left untouched and
// the error names the first offending index.
func (r *BulkImportRequest) Validate() error {
	candidate := BulkImportRequest{}
	if r.URLs != nil {
		candidate.URLs = make([]string, len(r.URLs))
		for i, raw := range r.URLs {
			candidate.URLs[i] = strings.TrimSpace(raw)
		}
	}
	if err := validate.Struct(candidate); err != nil {
		return urlError(err, func(field string) string {
			var i int
			if _, scanErr := fmt.Sscanf(field, "urls[%d]", &i); scanErr == nil && i < len(candidate.URLs) {
				return candidate.URLs[i]
			}
			return ""
		})
	}
	r.URLs = candidate.URLs
	return nil
}

package middleware

import (
	"mime"
	"net/http"

	"read-library-backend/pkg/utils"
)

// DefaultMaxBodyBytes bounds JSON request bodies; a bulk list of URLs fits well within it.
const DefaultMaxBodyBytes int64 = 1 << 20

// ContentTypeJSON 验证请求Content-Type为application/json
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				utils.WriteErrorResponseWithCode(w, http.StatusUnsupportedMediaType,
					utils.CodeUnsupported, "Content-Type header is required", "")
				return
			}

			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil || mediaType != "application/json" {
				utils.WriteErrorResponseWithCode(w, http.StatusUnsupportedMediaType,
					utils.CodeUnsupported, "Content-Type must be application/json", "")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize 限制请求体大小
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				utils.WriteErrorResponseWithCode(w, http.StatusRequestEntityTooLarge,
					utils.CodeTooLarge, "Request body too large", "")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

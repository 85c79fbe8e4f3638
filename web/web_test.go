package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesIndexAndAssets(t *testing.T) {
	h, err := Handler()
	require.NoError(t, err)

	for _, tc := range []struct {
		path        string
		contains    string
		contentType string
	}{
		{path: "/", contains: "Registry Console", contentType: "text/html"},
		{path: "/dataset/123", contains: "Registry Console", contentType: "text/html"},
		{path: "/console.js", contains: "/api/v1", contentType: "javascript"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, tc.path)
		assert.Contains(t, rec.Body.String(), tc.contains, tc.path)
		assert.Contains(t, rec.Header().Get("Content-Type"), tc.contentType, tc.path)
	}
}

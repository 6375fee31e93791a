package api_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trustprimitive/core/pkg/api"
	"github.com/trustprimitive/core/pkg/trusterr"
)

func TestWriteTrustError_ProtocolSentinelMapsToConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/negotiations/abc/accept", nil)

	err := trusterr.Wrap(trusterr.ErrBindingImmutable, "negotiation abc")
	api.WriteTrustError(rec, req, err)

	assert.Equal(t, 409, rec.Code)
	assert.Contains(t, rec.Body.String(), "TRUST/PROTOCOL/BINDING_IMMUTABLE")
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestWriteTrustError_CryptographicSentinelMapsToUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/negotiations/abc/accept", nil)

	err := trusterr.Wrap(trusterr.ErrInvalidSignature, "accept rejected")
	api.WriteTrustError(rec, req, err)

	assert.Equal(t, 401, rec.Code)
}

func TestWriteTrustError_ConcurrencySentinelMapsToConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/negotiations/abc/offer", nil)

	err := trusterr.Wrap(trusterr.ErrConcurrency, "offer raced")
	api.WriteTrustError(rec, req, err)

	assert.Equal(t, 409, rec.Code)
}

func TestWriteTrustError_UnclassifiedErrorMapsToInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/negotiations/abc", nil)

	api.WriteTrustError(rec, req, assertError("boom"))

	assert.Equal(t, 500, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

type assertError string

func (e assertError) Error() string { return string(e) }

package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sign computes a signature the way Twilio documents it.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func serve(t *testing.T, mw echo.MiddlewareFunc, form url.Values, sig string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	e := echo.New()
	var got map[string]string
	e.POST("/twilio/voice", func(c echo.Context) error {
		got, _ = c.Get(TwilioParamsKey).(map[string]string)
		return c.NoContent(http.StatusNoContent)
	}, mw)
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	req.Host = "sahayak.example.org"
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, got
}

func TestTwilioAuth_Valid(t *testing.T) {
	form := url.Values{"CallSid": {"CA123"}, "From": {"+911234567890"}}
	sig := sign("secret", "https://sahayak.example.org/twilio/voice", form)

	rec, params := serve(t, TwilioAuth("secret", ""), form, sig)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "CA123", params["CallSid"])
}

func TestTwilioAuth_PublicBaseURL(t *testing.T) {
	form := url.Values{"CallSid": {"CA9"}}
	sig := sign("secret", "https://public.example.org/twilio/voice", form)

	rec, _ := serve(t, TwilioAuth("secret", "https://public.example.org/"), form, sig)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTwilioAuth_Rejects(t *testing.T) {
	form := url.Values{"CallSid": {"CA123"}}

	rec, _ := serve(t, TwilioAuth("secret", ""), form, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, TwilioAuth("secret", ""), form, sign("other", "https://sahayak.example.org/twilio/voice", form))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, TwilioAuth("", ""), form, "x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

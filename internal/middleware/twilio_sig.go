// Package middleware holds echo middleware shared by the HTTP surfaces.
package middleware

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/client"
)

// TwilioParamsKey is the echo context key holding the validated webhook form.
const TwilioParamsKey = "twilioParams"

// TwilioAuth validates Twilio webhook requests using the X-Twilio-Signature
// header. publicBaseURL is the externally visible scheme and host Twilio
// signed against; when empty, https and the request Host are assumed.
func TwilioAuth(authToken, publicBaseURL string) echo.MiddlewareFunc {
	validator := client.NewRequestValidator(authToken)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := c.Request().Header.Get("X-Twilio-Signature")
			if !validator.Validate(SignedURL(c.Request(), publicBaseURL), params, signature) {
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(TwilioParamsKey, params)
			return next(c)
		}
	}
}

// SignedURL rebuilds the absolute URL Twilio computed the signature over.
func SignedURL(r *http.Request, publicBaseURL string) string {
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		base = "https://" + r.Host
	}
	u := base + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/sahayak/internal/agent"
	"github.com/chadiek/sahayak/internal/gateway"
)

type generatorFunc func(ctx context.Context, prompt, locale string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt, locale string) (string, error) {
	return f(ctx, prompt, locale)
}

func chat(t *testing.T, gen Generator, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.POST("/chat", ChatHandler(gen, nil))
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler(t *testing.T) {
	var gotLocale string
	gen := generatorFunc(func(_ context.Context, prompt, locale string) (string, error) {
		gotLocale = locale
		return "answer: " + prompt, nil
	})

	rec := chat(t, gen, `{"message":"timings?","language":"hi-IN"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"answer: timings?"}`, rec.Body.String())
	assert.Equal(t, "hi-IN", gotLocale)

	chat(t, gen, `{"message":"hi"}`)
	assert.Equal(t, "en-IN", gotLocale)
}

func TestChatHandler_Errors(t *testing.T) {
	failing := generatorFunc(func(context.Context, string, string) (string, error) { return "", errors.New("down") })

	assert.Equal(t, http.StatusBadRequest, chat(t, failing, `{"message":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, chat(t, failing, `{`).Code)
	assert.Equal(t, http.StatusBadGateway, chat(t, failing, `{"message":"hello"}`).Code)
}

// The handler and gateway.Client agree on the wire contract.
func TestChatHandler_WithGatewayClient(t *testing.T) {
	e := echo.New()
	e.POST("/chat", ChatHandler(generatorFunc(func(_ context.Context, prompt, locale string) (string, error) {
		return prompt + "/" + locale, nil
	}), nil))
	srv := httptest.NewServer(e)
	defer srv.Close()

	reply, err := gateway.New(srv.URL+"/chat", 0).Send(context.Background(), "namaste", agent.LocaleHindi)
	require.NoError(t, err)
	assert.Equal(t, "namaste/hi-IN", reply)
}

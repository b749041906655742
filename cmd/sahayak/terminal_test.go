package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/sahayak/internal/agent"
)

type gatewayFunc func(ctx context.Context, msg string, locale agent.Locale) (string, error)

func (f gatewayFunc) Send(ctx context.Context, msg string, locale agent.Locale) (string, error) {
	return f(ctx, msg, locale)
}

func runScript(t *testing.T, gw agent.Gateway, script string) (string, *agent.Session) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	term := newTerminal(&out)
	s := agent.NewSession(agent.Deps{Gateway: gw, Sink: term}, agent.Options{})
	t.Cleanup(s.Close)
	require.NoError(t, term.run(strings.NewReader(script), s))
	return out.String(), s
}

func TestTerminal_Conversation(t *testing.T) {
	gw := gatewayFunc(func(_ context.Context, msg string, locale agent.Locale) (string, error) {
		return "you said " + msg + " in " + string(locale), nil
	})
	out, s := runScript(t, gw, "hello\n/locale hi-IN\nnamaste\n/quit\nnever sent\n")

	assert.Contains(t, out, "sahayak> "+agent.DefaultGreeting)
	assert.Contains(t, out, "sahayak> you said hello in en-IN")
	assert.Contains(t, out, "settings: locale=hi-IN")
	assert.Contains(t, out, "sahayak> you said namaste in hi-IN")
	assert.NotContains(t, out, "never sent")
	assert.Len(t, s.History(), 5)
}

func TestTerminal_Commands(t *testing.T) {
	out, s := runScript(t, nil, "/font 2\n/font big\n/mute\n/voice\n/locale ???\n/bogus\n/help\n\n")

	assert.Contains(t, out, "font=18")
	assert.Contains(t, out, "/font needs a number")
	assert.Contains(t, out, "voice=false")
	assert.Contains(t, out, "speech recognition is not available")
	assert.Contains(t, out, "invalid locale")
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, "/history")
	assert.Equal(t, 18.0, s.Settings().FontScale)
}

func TestTerminal_FontRejectsNonFinite(t *testing.T) {
	out, s := runScript(t, nil, "/font NaN\n/font Inf\n/font -inf\n/font 1.5\n")

	assert.Equal(t, 3, strings.Count(out, "/font needs a number"))
	assert.Equal(t, 17.5, s.Settings().FontScale)
}

func TestTerminal_GatewayFailure(t *testing.T) {
	gw := gatewayFunc(func(context.Context, string, agent.Locale) (string, error) {
		return "", errors.New("connection refused")
	})
	out, _ := runScript(t, gw, "hello\n")
	assert.Contains(t, out, "could not reach the assistant")
	assert.Contains(t, out, "retry")
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"assistant-url", "locale", "speak-binary", "mute", "no-color", "timeout"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

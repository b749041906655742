package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocale(t *testing.T) {
	cases := []struct {
		in   string
		want Locale
		ok   bool
	}{
		{"en-IN", LocaleEnglish, true},
		{"hi-in", LocaleHindi, true},
		{" ta-IN ", "ta-IN", true},
		{"", "", false},
		{"english please", "", false},
	}
	for _, tc := range cases {
		got, err := ParseLocale(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidLocale, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestLocale_Language(t *testing.T) {
	assert.Equal(t, "hi", LocaleHindi.Language())
	assert.Equal(t, "en", Locale("EN_us").Language())
	assert.Equal(t, "fr", Locale("fr").Language())
}

func TestGatewayError_Matching(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&GatewayError{Op: "transport", Err: cause})
	assert.ErrorIs(t, err, ErrGatewayFailure)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "assistant gateway transport: dial tcp: refused", err.Error())

	status := &GatewayError{Op: "status", Status: 502}
	assert.ErrorIs(t, status, ErrGatewayFailure)
	assert.Equal(t, "assistant gateway status: status=502", status.Error())
}

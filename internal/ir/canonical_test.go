package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"number", IRNumber(0.25), "0.25"},
		{"large number", IRNumber(1e21), "1e+21"},
		{"small number", IRNumber(1.5e-7), "1.5e-7"},
		{"null", IRNull{}, "null"},
		{"bool", IRBool(true), "true"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"array", IRArray{IRInt(1), IRString("a")}, `[1,"a"]`},
		{"go map", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := IRObject{
		"z": IRObject{"b": IRInt(1), "a": IRInt(2)},
		"a": IRInt(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(IRString("<a & b>\u2028"))
	require.NoError(t, err)
	assert.Equal(t, "\"<a & b>\u2028\"", string(result))
}

func TestMarshalCanonicalControlCharacters(t *testing.T) {
	result, err := MarshalCanonical(IRString("a\"b\\c\nd\x01"))
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nd\u0001"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed, err := MarshalCanonical(IRString("e\u0301"))
	require.NoError(t, err)
	composed, err := MarshalCanonical(IRString("\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(IRNumber(math.NaN()))
	require.Error(t, err)

	_, err = MarshalCanonical(math.Inf(1))
	require.Error(t, err)
}

func TestFromJSONNumbers(t *testing.T) {
	v, err := FromJSON([]byte(`{"a": 2.0, "b": 2.5, "c": [1, null]}`))
	require.NoError(t, err)

	obj := v.(IRObject)
	assert.Equal(t, IRInt(2), obj["a"])
	assert.Equal(t, IRNumber(2.5), obj["b"])
	assert.Equal(t, IRArray{IRInt(1), IRNull{}}, obj["c"])
}

func TestSortedKeysUTF16Order(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D..., which sort before U+FF61
	// in UTF-16 but after it in UTF-8.
	obj := IRObject{"｡": IRInt(1), "\U0001F600": IRInt(2)}
	assert.Equal(t, []string{"\U0001F600", "｡"}, obj.SortedKeys())
}

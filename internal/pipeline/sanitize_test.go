package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bare object", raw: `{"a":1}`, want: `{"a":1}`},
		{name: "surrounding whitespace", raw: "\n\t {\"a\":1} \n", want: `{"a":1}`},
		{name: "json fence", raw: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "plain fence", raw: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fence with tag and spaces", raw: "  ```JSON  \n{\"a\":1}```  ", want: `{"a":1}`},
		{name: "crlf fence", raw: "```json\r\n{\"a\":1}\r\n```", want: `{"a":1}`},
		{name: "prose around fence", raw: "Aqui está:\n```json\n{\"a\":1}\n```\nEspero ter ajudado!", want: `{"a":1}`},
		{name: "prose around object", raw: "Resultado: {\"a\":{\"b\":2}} fim.", want: `{"a":{"b":2}}`},
		{name: "trailing prose", raw: "{\"a\":1}\n\nObservação: nada mais.", want: `{"a":1}`},
		{name: "unterminated fence", raw: "```json\n{\"a\":1}", want: `{"a":1}`},
		{name: "empty fence", raw: "```json\n```", want: ""},
		{name: "array left alone", raw: "[1, 2]", want: "[1, 2]"},
		{name: "no structure", raw: "não sei", want: "não sei"},
		{name: "empty", raw: "", want: ""},
		{name: "fence inside a string value is kept", raw: "{\"code\":\"```x```\"}", want: "{\"code\":\"```x```\"}"},
		{name: "fenced object with backticks in a value", raw: "```json\n{\"reply\":\"use ```go``` blocks\"}\n```", want: "{\"reply\":\"use ```go``` blocks\"}"},
		{name: "single line fence", raw: "```{\"a\":1}```", want: `{"a":1}`},
		{name: "fence then trailing prose", raw: "```json\n{\"a\":1}\n```\nEspero ter ajudado!", want: `{"a":1}`},
		{name: "nested fences", raw: "```\n```json\n{\"a\":1}\n```\n```", want: `{"a":1}`},
		{name: "bracketed prose before object", raw: "[Nota] {\"a\":1}", want: `{"a":1}`},
		{name: "array of objects left alone", raw: `[{"a":1}]`, want: `[{"a":1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		`{"a":1}`,
		"```json\n{\"reply\":\"oi\"}\n```",
		"```\n```json\n{\"a\":1}\n```\n```",
		"Texto antes ```json\n{\"a\":1}\n``` texto depois",
		"```a``` ```b```",
		"````\nfoo",
		"```",
		"{ unclosed",
		"} {",
		"[{\"a\":1}] trailing",
		"prefix {\"a\":1} {\"b\":2} suffix",
		"   ",
		"```json\n[1,2]\n```",
		"```\n```\n```",
		"``````",
		"```json\n{\"reply\":\"use ```go``` blocks\"}\n```",
		"[Nota] {\"a\":1}",
		"[Nota] sem objeto",
	}

	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "input %q", in)
	}
}

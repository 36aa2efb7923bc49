package extract

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
	"github.com/AlbusWei/auto-ai-testing/internal/httpcall"
)

func jsonResponse(body string) *httpcall.Response {
	return &httpcall.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func textResponse(body string) *httpcall.Response {
	return &httpcall.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
	}
}

func TestOutputText_PathPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"top level output", `{"output":"hi"}`, "hi"},
		{"nested data output", `{"data":{"output":"hi"}}`, "hi"},
		{"result field", `{"result":"done"}`, "done"},
		{"openai chat shape", `{"choices":[{"message":{"content":"hi"}}]}`, "hi"},
		{"openai completion shape", `{"choices":[{"text":"hi"}]}`, "hi"},
		{"message field", `{"message":"hi"}`, "hi"},
		{"dify answer", `{"answer":"42 is the answer"}`, "42 is the answer"},
		{"outputs output_text", `{"outputs":{"output_text":"hi"}}`, "hi"},
		{"output wins over answer", `{"answer":"b","output":"a"}`, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputText(jsonResponse(tt.body)))
		})
	}
}

func TestOutputText_NonJSONPassthrough(t *testing.T) {
	assert.Equal(t, "plain text", OutputText(textResponse("plain text")))
}

func TestOutputText_DeclaredJSONButNot(t *testing.T) {
	// The content-type lies and the body is not parseable either.
	assert.Equal(t, "not json at all", OutputText(jsonResponse("not json at all")))
}

func TestOutputText_DoubleEncodedAnswer(t *testing.T) {
	body := `{"answer":"{\"message\":\"inner text\",\"code\":0}"}`
	assert.Equal(t, "inner text", OutputText(jsonResponse(body)))
}

func TestOutputText_AnswerObjectWithMessage(t *testing.T) {
	body := `{"answer":{"message":"inner text"}}`
	assert.Equal(t, "inner text", OutputText(jsonResponse(body)))
}

func TestOutputText_FallbackSerializesWholeDocument(t *testing.T) {
	got := OutputText(jsonResponse(`{"unknown_field":123}`))
	assert.JSONEq(t, `{"unknown_field":123}`, got)
}

func TestLabel_ScalarPaths(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"score int", `{"score":1}`, int64(1)},
		{"score float", `{"score":0.75}`, 0.75},
		{"nested data score", `{"data":{"score":1}}`, int64(1)},
		{"result score", `{"result":{"score":0}}`, int64(0)},
		{"outputs score", `{"outputs":{"score":0.5}}`, 0.5},
		{"answer string with number", `{"answer":"the score is 0.8"}`, 0.8},
		{"answer string whole number", `{"answer":"score: 1 of 1"}`, int64(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Label(jsonResponse(tt.body))

			require.NoError(t, err)
			assert.False(t, v.IsList())
			assert.Equal(t, tt.want, v.At(0))
		})
	}
}

func TestLabel_ListPaths(t *testing.T) {
	v, err := Label(jsonResponse(`{"data":[{"score":1},{"score":0}]}`))

	require.NoError(t, err)
	require.True(t, v.IsList())
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, int64(1), v.At(0))
	assert.Equal(t, int64(0), v.At(1))
}

func TestLabel_ListSkipsNonNumeric(t *testing.T) {
	v, err := Label(jsonResponse(`{"scores":[1,"bad",0.5,{"score":0},{"note":"x"}]}`))

	require.NoError(t, err)
	require.True(t, v.IsList())
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 0.5, v.At(1))
}

func TestLabel_TopLevelBareNumberFallback(t *testing.T) {
	v, err := Label(jsonResponse(`{"verdict":"pass","accuracy":0.9}`))

	require.NoError(t, err)
	assert.Equal(t, 0.9, v.At(0))
}

func TestLabel_PlainTextSingleNumber(t *testing.T) {
	v, err := Label(textResponse("score: 0.75 out of 1"))

	require.NoError(t, err)
	assert.False(t, v.IsList())
	assert.Equal(t, 0.75, v.At(0))
}

func TestLabel_PlainTextMultipleNumbers(t *testing.T) {
	v, err := Label(textResponse("4 5"))

	require.NoError(t, err)
	require.True(t, v.IsList())
	assert.Equal(t, int64(4), v.At(0))
	assert.Equal(t, int64(5), v.At(1))
}

func TestLabel_PlainTextNoNumbers(t *testing.T) {
	_, err := Label(textResponse("no digits here"))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoScore)
}

func TestMetadata_SessionAndUsage(t *testing.T) {
	body := `{
		"conversation_id": "c-1",
		"message_id": "m-1",
		"event": "message",
		"metadata": {"usage": {"prompt_tokens": 10, "total_tokens": 25, "currency": "USD"}}
	}`

	meta := Metadata(jsonResponse(body))

	assert.Equal(t, "c-1", meta["conversation_id"])
	assert.Equal(t, "m-1", meta["message_id"])
	assert.Equal(t, "message", meta["event"])
	assert.Equal(t, float64(10), meta["usage_prompt_tokens"])
	assert.Equal(t, float64(25), meta["usage_total_tokens"])
	assert.Equal(t, "USD", meta["usage_currency"])

	_, hasTaskID := meta["task_id"]
	assert.False(t, hasTaskID, "absent fields must be omitted")
}

func TestMetadata_NonJSONBody(t *testing.T) {
	assert.Empty(t, Metadata(textResponse("nope")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(1), Normalize(1.0))
	assert.Equal(t, int64(2), Normalize(1.9999999999))
	assert.Equal(t, 0.75, Normalize(0.75))
}

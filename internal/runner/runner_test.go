package runner

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/AlbusWei/auto-ai-testing/internal/config"
	"github.com/AlbusWei/auto-ai-testing/internal/dataset"
	"github.com/AlbusWei/auto-ai-testing/internal/files"
)

func testConfig() *config.Config {
	return &config.Config{
		ModelKind:    config.ModelGeneric,
		ModelRetries: 2,
		ModelTimeout: 2 * time.Second,
		JudgeKind:    config.JudgeDifyWorkflow,
		JudgeRetries: 2,
		JudgeTimeout: 2 * time.Second,
		BackoffBase:  time.Millisecond,
		BatchSize:    1,
		MaxMergeRows: 1,
		InputField:   "input",
		UserID:       "tester",
		Streaming:    true,
		LockTimeout:  time.Second,
	}
}

func testTable(inputs ...string) *dataset.Table {
	t := &dataset.Table{
		Columns: []string{dataset.ColID, dataset.ColScenario, dataset.ColInput, dataset.ColGroundTruth, dataset.ColOutput, dataset.ColLabel},
	}

	for i, in := range inputs {
		t.Rows = append(t.Rows, map[string]any{
			dataset.ColID:          i + 1,
			dataset.ColScenario:    "s",
			dataset.ColInput:       in,
			dataset.ColGroundTruth: "expected " + in,
		})
	}

	return t
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)

	defer func() {
		_ = f.Close()
	}()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	return rows
}

func colIndex(t *testing.T, header []string, name string) int {
	t.Helper()

	for i, c := range header {
		if c == name {
			return i
		}
	}

	t.Fatalf("column %q not found in %v", name, header)

	return -1
}

func TestModelRunner_RecordsOutputs(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"echo"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ModelEndpoint = srv.URL
	cfg.ModelAPIKey = "secret"

	logger := zerolog.Nop()
	table := testTable("one", "two")
	outPath := filepath.Join(t.TempDir(), "out.csv")

	err := NewModelRunner(cfg, &logger, nil).Run(context.Background(), table, outPath, files.TypeCSV)
	require.NoError(t, err)

	assert.Equal(t, "echo", table.Rows[0][dataset.ColOutput])
	assert.Equal(t, "echo", table.Rows[1][dataset.ColOutput])
	assert.Equal(t, http.StatusOK, table.Rows[0][ColResponseStatus])
	assert.Nil(t, table.Rows[0][ColError])

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, bodies, 2)
	assert.Equal(t, "one", gjson.Get(bodies[0], "input").String())

	rows := readCSV(t, outPath)
	require.Len(t, rows, 3, "header plus two streamed rows")
	out := colIndex(t, rows[0], dataset.ColOutput)
	assert.Equal(t, "echo", rows[1][out])

	_, err = os.Stat(outPath + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestModelRunner_HTTPErrorRecordedPerRow(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"fine"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ModelEndpoint = srv.URL

	logger := zerolog.Nop()
	table := testTable("a", "b")

	err := NewModelRunner(cfg, &logger, nil).Run(context.Background(), table, filepath.Join(t.TempDir(), "out.csv"), files.TypeCSV)
	require.NoError(t, err, "row failures must not abort the batch")

	assert.Equal(t, "HTTP 500: boom", table.Rows[0][ColError])
	assert.Equal(t, "", table.Rows[0][dataset.ColOutput])
	assert.Equal(t, "fine", table.Rows[1][dataset.ColOutput])
	assert.Nil(t, table.Rows[1][ColError])
}

func TestModelRunner_TransportErrorRecordedPerRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig()
	cfg.ModelEndpoint = url

	logger := zerolog.Nop()
	table := testTable("a")

	err := NewModelRunner(cfg, &logger, nil).Run(context.Background(), table, filepath.Join(t.TempDir(), "out.csv"), files.TypeCSV)
	require.NoError(t, err)

	errStr, ok := table.Rows[0][ColError].(string)
	require.True(t, ok)
	assert.Contains(t, errStr, "RequestException")
	assert.Nil(t, table.Rows[0][ColResponseStatus])
}

func TestModelRunner_FallsBackWhenLockHeld(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"x"}`))
	}))
	defer srv.Close()

	outPath := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(outPath+".lock", []byte("pid=999999\n"), 0o644))

	cfg := testConfig()
	cfg.ModelEndpoint = srv.URL
	cfg.LockTimeout = 30 * time.Millisecond

	logger := zerolog.Nop()
	table := testTable("a")

	err := NewModelRunner(cfg, &logger, nil).Run(context.Background(), table, outPath, files.TypeCSV)
	require.NoError(t, err, "lock contention must degrade to one-shot save")

	rows := readCSV(t, outPath)
	require.Len(t, rows, 2)
	out := colIndex(t, rows[0], dataset.ColOutput)
	assert.Equal(t, "x", rows[1][out])
}

func TestModelPayload_Dialects(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name   string
		kind   string
		checks func(t *testing.T, body string)
	}{
		{
			name: "generic",
			kind: config.ModelGeneric,
			checks: func(t *testing.T, body string) {
				assert.Equal(t, "hello", gjson.Get(body, "input").String())
			},
		},
		{
			name: "dify completion",
			kind: config.ModelDifyCompletion,
			checks: func(t *testing.T, body string) {
				assert.Equal(t, "hello", gjson.Get(body, "inputs.input").String())
				assert.Equal(t, "blocking", gjson.Get(body, "response_mode").String())
				assert.Equal(t, "tester", gjson.Get(body, "user").String())
			},
		},
		{
			name: "dify chat",
			kind: config.ModelDifyChat,
			checks: func(t *testing.T, body string) {
				assert.Equal(t, "hello", gjson.Get(body, "query").String())
				assert.True(t, gjson.Get(body, "inputs").IsObject())
			},
		},
		{
			name: "openai chat",
			kind: config.ModelOpenAIChat,
			checks: func(t *testing.T, body string) {
				assert.Equal(t, "hello", gjson.Get(body, "messages.0.content").String())
				assert.Equal(t, "user", gjson.Get(body, "messages.0.role").String())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.ModelKind = tt.kind

			body, err := jsonBody(modelPayload(cfg, "hello", nil, map[string]any{}))
			require.NoError(t, err)
			tt.checks(t, body)
		})
	}
}

func TestEvaluator_ScalarLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":1}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JudgeEndpoint = srv.URL

	logger := zerolog.Nop()
	table := testTable("a", "b")
	table.Rows[0][dataset.ColOutput] = "out-a"
	table.Rows[1][dataset.ColOutput] = "out-b"

	err := NewEvaluator(cfg, &logger).Run(context.Background(), table, filepath.Join(t.TempDir(), "eval.csv"), files.TypeCSV)
	require.NoError(t, err)

	assert.Equal(t, int64(1), table.Rows[0][dataset.ColLabel])
	assert.Equal(t, int64(1), table.Rows[1][dataset.ColLabel])
	assert.Equal(t, http.StatusOK, table.Rows[0][ColJudgeStatus])
}

func TestEvaluator_GroupedListLabelPositional(t *testing.T) {
	var gotItems int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotItems = int(gjson.GetBytes(body, "inputs.items.#").Int())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"score":1},{"score":0}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JudgeEndpoint = srv.URL
	cfg.MaxMergeRows = 2

	logger := zerolog.Nop()
	table := testTable("a", "b")

	err := NewEvaluator(cfg, &logger).Run(context.Background(), table, filepath.Join(t.TempDir(), "eval.csv"), files.TypeCSV)
	require.NoError(t, err)

	assert.Equal(t, 2, gotItems, "grouped dialect sends an items list")
	assert.Equal(t, int64(1), table.Rows[0][dataset.ColLabel])
	assert.Equal(t, int64(0), table.Rows[1][dataset.ColLabel])
}

func TestEvaluator_ListCountMismatchBroadcastsFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"scores":[7]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JudgeEndpoint = srv.URL
	cfg.MaxMergeRows = 2

	logger := zerolog.Nop()
	table := testTable("a", "b")

	err := NewEvaluator(cfg, &logger).Run(context.Background(), table, filepath.Join(t.TempDir(), "eval.csv"), files.TypeCSV)
	require.NoError(t, err)

	assert.Equal(t, int64(7), table.Rows[0][dataset.ColLabel])
	assert.Equal(t, int64(7), table.Rows[1][dataset.ColLabel])
}

func TestEvaluator_ChatJudgeKeepsTextVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"the output is fully correct"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JudgeEndpoint = srv.URL
	cfg.JudgeKind = config.JudgeChat

	logger := zerolog.Nop()
	table := testTable("a")

	err := NewEvaluator(cfg, &logger).Run(context.Background(), table, filepath.Join(t.TempDir(), "eval.csv"), files.TypeCSV)
	require.NoError(t, err)

	assert.Equal(t, "the output is fully correct", table.Rows[0][dataset.ColLabel])
}

func TestEvaluator_DetailRecordsJudgeAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"score is 1","score":1}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JudgeEndpoint = srv.URL
	cfg.Detail = true

	logger := zerolog.Nop()
	table := testTable("a")

	err := NewEvaluator(cfg, &logger).Run(context.Background(), table, filepath.Join(t.TempDir(), "eval.csv"), files.TypeCSV)
	require.NoError(t, err)

	assert.Equal(t, int64(1), table.Rows[0][dataset.ColLabel])
	assert.Equal(t, "score is 1", table.Rows[0][ColJudgeAnswer])
}

func TestEvaluator_UnparseableScoreRecordedPerGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("no digits at all"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.JudgeEndpoint = srv.URL

	logger := zerolog.Nop()
	table := testTable("a")

	err := NewEvaluator(cfg, &logger).Run(context.Background(), table, filepath.Join(t.TempDir(), "eval.csv"), files.TypeCSV)
	require.NoError(t, err)

	errStr, ok := table.Rows[0][ColJudgeError].(string)
	require.True(t, ok)
	assert.Contains(t, errStr, "JudgeException")
	assert.Nil(t, table.Rows[0][dataset.ColLabel])
}

func jsonBody(payload any) (string, error) {
	b, err := json.Marshal(payload)

	return string(b), err
}

func TestSaveTable_CSVRoundTrip(t *testing.T) {
	table := testTable("a")
	table.Rows[0][dataset.ColOutput] = "done"

	path := filepath.Join(t.TempDir(), "save.csv")
	require.NoError(t, SaveTable(table, path, files.TypeCSV))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	out := colIndex(t, rows[0], dataset.ColOutput)
	assert.Equal(t, "done", rows[1][out])
}

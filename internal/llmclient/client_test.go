package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamsentry/internal/domain"
)

func testAlert() domain.AlertPayload {
	return domain.AlertPayload{
		AlertID: "A1",
		Labels: domain.AlertLabels{
			AlertName: "HighCPU",
			Instance:  "srv-1",
			Severity:  domain.SeverityCritical,
		},
		Annotations: domain.AlertAnnotations{Description: "CPU 95%"},
	}
}

func TestAnalyzeHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner, _ := json.Marshal(map[string]string{
			"root_cause":        "CPU saturated by a runaway query",
			"immediate_actions": "Kill the query and scale out",
		})
		resp, _ := json.Marshal(map[string]string{"response": string(inner)})
		w.Write(resp)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "llama2", Timeout: time.Second, MaxConcurrency: 2})
	res := c.Analyze(context.Background(), testAlert(), domain.ReasonFirstOccurrence)

	require.Empty(t, res.Error)
	assert.Equal(t, "CPU saturated by a runaway query", res.RootCause)
}

func TestAnalyzeWithFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner := "Here is my analysis:\n```json\n{\"root_cause\":\"disk full\",\"immediate_actions\":\"clear logs\"}\n```"
		resp, _ := json.Marshal(map[string]string{"response": inner})
		w.Write(resp)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "llama2", Timeout: time.Second, MaxConcurrency: 2})
	res := c.Analyze(context.Background(), testAlert(), domain.ReasonFirstOccurrence)

	require.Empty(t, res.Error)
	assert.Equal(t, "disk full", res.RootCause)
}

func TestAnalyzeUnparseableInnerJSONFallsBackToRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, _ := json.Marshal(map[string]string{"response": "not json at all"})
		w.Write(resp)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "llama2", Timeout: time.Second, MaxConcurrency: 2})
	res := c.Analyze(context.Background(), testAlert(), domain.ReasonFirstOccurrence)

	assert.Equal(t, "Failed to parse JSON", res.Error)
	assert.Equal(t, "not json at all", res.RawAnalysis)
}

func TestAnalyzeTransportFailureNeverRaises(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Model: "llama2", Timeout: 50 * time.Millisecond, MaxConcurrency: 2})
	res := c.Analyze(context.Background(), testAlert(), domain.ReasonFirstOccurrence)
	assert.NotEmpty(t, res.Error)
}

func TestAnalyzeNeverExceedsConcurrencyLimit(t *testing.T) {
	var inFlight int64
	var maxObserved int64
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if cur > maxObserved {
			maxObserved = cur
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		resp, _ := json.Marshal(map[string]string{"response": `{"root_cause":"x","immediate_actions":"y"}`})
		w.Write(resp)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "llama2", Timeout: time.Second, MaxConcurrency: 2})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Analyze(context.Background(), testAlert(), domain.ReasonFirstOccurrence)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved, int64(2))
}

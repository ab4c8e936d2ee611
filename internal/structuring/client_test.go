package structuring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
)

const recordContent = `{
	"sender_info": ["Acme Ltd", "1 Main Street", "Dublin"],
	"sender_country": "Ireland",
	"recipient_info": ["Globex AG", "Zurich"],
	"recipient_country": "Switzerland",
	"due_date": "01 March, 2025",
	"transactions": ["Customer service"],
	"quantities": [1],
	"unit_prices": ["€30.00"],
	"line_totals": ["€30.00"],
	"total": "€30.00",
	"currency": "€",
	"logo": "None"
}`

const analysisContent = `{"analysis": "Ireland requires the supplier VAT number. Switzerland applies reverse charge."}`

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(b)
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sampleRequest() Request {
	return Request{
		Facts: invoice.Facts{
			SenderName:       "Acme Ltd",
			SenderCountry:    "Ireland",
			RecipientName:    "Globex AG",
			RecipientCountry: "Switzerland",
			Transactions:     "Customer service, qty 1, €30.00",
		},
		RegulatoryContext: "Source: https://a.example\n\nIrish invoices need a VAT number.",
	}
}

func TestClient_Structure(t *testing.T) {
	var calls []chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, req)

		if strings.Contains(req.Messages[0].Content, "invoice parser") {
			io.WriteString(w, completion(recordContent))
			return
		}
		io.WriteString(w, completion(analysisContent))
	})

	res, err := client.Structure(context.Background(), sampleRequest())
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, "test-model", calls[0].Model)
	assert.Contains(t, calls[0].Messages[2].Content, "Sender: Acme Ltd")
	assert.Contains(t, calls[0].Messages[2].Content, "Irish invoices need a VAT number.")
	assert.Contains(t, calls[1].Messages[2].Content, `"sender_country": "Ireland"`)

	assert.Equal(t, []string{"Acme Ltd", "1 Main Street", "Dublin"}, res.Record.SenderInfo)
	assert.Equal(t, []float64{1}, res.Record.Quantities)
	assert.Equal(t, "€30.00", res.Record.Total)
	assert.Contains(t, res.Analysis, "Ireland")
	assert.Contains(t, res.Analysis, "Switzerland")
}

func TestClient_StructureEmptyContextIsStated(t *testing.T) {
	var user string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if strings.Contains(req.Messages[0].Content, "invoice parser") {
			user = req.Messages[2].Content
			io.WriteString(w, completion(recordContent))
			return
		}
		io.WriteString(w, completion(analysisContent))
	})

	req := sampleRequest()
	req.RegulatoryContext = ""
	_, err := client.Structure(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, user, "no jurisdiction-specific guidance available")
}

func TestClient_StructureFailures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantOp        string
	}{
		{name: "quota", status: http.StatusTooManyRequests, body: `{"error":"rate limited"}`, wantRetryable: true, wantOp: "extract"},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", wantRetryable: true, wantOp: "extract"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "bad key", wantOp: "extract"},
		{name: "not json", status: http.StatusOK, body: "<html>", wantOp: "extract"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantOp: "extract"},
		{name: "schema violation", status: http.StatusOK, body: completion(`{"sender_info":[]}`), wantOp: "extract"},
		{name: "quantities as strings", status: http.StatusOK, body: completion(strings.Replace(recordContent, `[1]`, `["one"]`, 1)), wantOp: "extract"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := client.Structure(context.Background(), sampleRequest())
			require.Error(t, err)

			var sErr *Error
			require.True(t, errors.As(err, &sErr))
			assert.Equal(t, tt.wantOp, sErr.Op)
			assert.Equal(t, tt.wantRetryable, domain.IsRetryable(err))
		})
	}
}

func TestClient_StructureAnalysisFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if strings.Contains(req.Messages[0].Content, "invoice parser") {
			io.WriteString(w, completion(recordContent))
			return
		}
		io.WriteString(w, completion(`{"analysis": ""}`))
	})

	_, err := client.Structure(context.Background(), sampleRequest())

	var sErr *Error
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "analyse", sErr.Op)
	assert.False(t, sErr.Retryable())
}

func TestClient_StructureCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completion(recordContent))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Structure(ctx, sampleRequest())

	var sErr *Error
	require.True(t, errors.As(err, &sErr))
	assert.False(t, sErr.Retryable())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "€" is three bytes; never split it
	assert.Equal(t, "a", truncate("a€", 2))
	assert.Equal(t, "abc", truncate("abc", 0))
}

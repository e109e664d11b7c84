//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/tutormesh/internal/bridge"
	"github.com/ashureev/tutormesh/internal/config"
	"github.com/ashureev/tutormesh/internal/domain"
	"github.com/ashureev/tutormesh/internal/student"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []string
	err   error
	reply func(studentID, text, correlationID string)
}

func (f *fakeSubmitter) Submit(studentID, text, correlationID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.reply != nil {
		go f.reply(studentID, text, correlationID)
	}
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() *config.Config {
	return &config.Config{
		CORSOrigins: []string{"*"},
		UI: config.UIConfig{
			Retention:    time.Minute,
			MaxEntries:   50,
			PollDeadline: time.Second,
			PollInterval: 10 * time.Millisecond,
			MaxBodyBytes: 1 << 16,
		},
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, sub Submitter) (http.Handler, *bridge.Buffer) {
	t.Helper()
	buf := bridge.NewBuffer(cfg.UI.MaxEntries, cfg.UI.Retention)
	h := NewBridgeHandler(sub, buf, cfg, nil)
	t.Cleanup(h.Close)
	return NewRouter(cfg, h), buf
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestSubmitRejectsEmptyInputWithoutForwarding(t *testing.T) {
	sub := &fakeSubmitter{}
	router, buf := newTestRouter(t, testConfig(), sub)

	for _, body := range []string{`{"studentId":"s1","text":""}`, `{"studentId":"s1","text":"   "}`, `{not json`, ``} {
		req := httptest.NewRequest(http.MethodPost, "/submit_input", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
		var got map[string]string
		decode(t, w, &got)
		if !strings.Contains(got["message"], "cannot be empty") {
			t.Errorf("body %q: message = %q", body, got["message"])
		}
	}
	if sub.count() != 0 {
		t.Errorf("forwarded %d inputs, want 0", sub.count())
	}
	if buf.Latest() != 0 {
		t.Errorf("buffer written on rejected input")
	}
}

func TestSubmitWaitsForConcludingReply(t *testing.T) {
	var buf *bridge.Buffer
	sub := &fakeSubmitter{}
	sub.reply = func(studentID, _, correlationID string) {
		time.Sleep(20 * time.Millisecond)
		buf.Append(domain.OutputEntry{StudentID: studentID, Kind: domain.EntryQuestion, Text: "[Math/Beginner] What is 7 + 5?", CorrelationID: correlationID})
	}
	var router http.Handler
	router, buf = newTestRouter(t, testConfig(), sub)

	req := httptest.NewRequest(http.MethodPost, "/submit_input", strings.NewReader(`{"studentId":"s1","text":"Math:Beginner"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got submitResponse
	decode(t, w, &got)
	if got.Delayed {
		t.Fatal("response should not be delayed")
	}
	if got.Message != "[Math/Beginner] What is 7 + 5?" {
		t.Errorf("message = %q", got.Message)
	}
	if got.StudentID != "s1" || got.CorrelationID == "" {
		t.Errorf("unexpected ids: %+v", got)
	}
	if len(got.Outputs) != 2 {
		t.Errorf("outputs = %+v", got.Outputs)
	}
}

func TestOverlappingSubmitsConcludeOnTheirOwnReplies(t *testing.T) {
	var buf *bridge.Buffer
	sub := &fakeSubmitter{}
	sub.reply = func(studentID, text, correlationID string) {
		switch text {
		case "Math:Beginner":
			time.Sleep(150 * time.Millisecond)
			buf.Append(domain.OutputEntry{StudentID: studentID, Kind: domain.EntryQuestion, Text: "[Math/Beginner] What is 7 + 5?", CorrelationID: correlationID})
		case "history":
			buf.Append(domain.OutputEntry{StudentID: studentID, Kind: domain.EntryFeedback, Text: "No answers yet.", CorrelationID: correlationID})
		}
	}
	var router http.Handler
	router, buf = newTestRouter(t, testConfig(), sub)

	post := func(text string) submitResponse {
		req := httptest.NewRequest(http.MethodPost, "/submit_input", strings.NewReader(`{"studentId":"s1","text":"`+text+`"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d", text, w.Code)
		}
		var got submitResponse
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Errorf("%s: decode: %v", text, err)
		}
		return got
	}

	var lesson, history submitResponse
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		lesson = post("Math:Beginner")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		history = post("history")
	}()
	wg.Wait()

	if lesson.Delayed || lesson.Message != "[Math/Beginner] What is 7 + 5?" {
		t.Errorf("lesson response = %q (delayed=%v)", lesson.Message, lesson.Delayed)
	}
	if history.Delayed || history.Message != "No answers yet." {
		t.Errorf("history response = %q (delayed=%v)", history.Message, history.Delayed)
	}
	for _, resp := range []submitResponse{lesson, history} {
		for _, e := range resp.Outputs {
			if e.CorrelationID != resp.CorrelationID {
				t.Errorf("response %s carries entry for %s: %+v", resp.CorrelationID, e.CorrelationID, e)
			}
		}
	}
}

func TestSubmitReportsDelayedResponse(t *testing.T) {
	cfg := testConfig()
	cfg.UI.PollDeadline = 50 * time.Millisecond
	router, _ := newTestRouter(t, cfg, &fakeSubmitter{})

	req := httptest.NewRequest(http.MethodPost, "/submit_input", strings.NewReader(`{"student_id":"s1","user_input":"history"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got submitResponse
	decode(t, w, &got)
	if !got.Delayed {
		t.Error("expected delayed response")
	}
	if len(got.Outputs) != 1 || got.Outputs[0].Kind != domain.EntryAck {
		t.Errorf("outputs = %+v", got.Outputs)
	}
}

func TestSubmitAliases(t *testing.T) {
	sub := &fakeSubmitter{}
	router, _ := newTestRouter(t, testConfig(), sub)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ui?student_id=s1&text=Math&wait=0", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /ui status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/submit?wait=false", strings.NewReader(url.Values{"studentId": {"s1"}, "text": {"1"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("POST /submit status = %d", w.Code)
	}

	if sub.count() != 2 || sub.calls[0] != "Math" || sub.calls[1] != "1" {
		t.Errorf("calls = %v", sub.calls)
	}
}

func TestSubmitStudentAgentUnavailable(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(), &fakeSubmitter{err: student.ErrUnavailable})

	req := httptest.NewRequest(http.MethodPost, "/submit_input", strings.NewReader(`{"studentId":"s1","text":"Math"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerWindow = 2
	router, _ := newTestRouter(t, cfg, &fakeSubmitter{})

	codes := make([]int, 3)
	var last *httptest.ResponseRecorder
	for i := range codes {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/ui?student_id=s1&text=Math&wait=0", nil))
		codes[i] = last.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on 429")
	}
}

func TestRecentOutputs(t *testing.T) {
	router, buf := newTestRouter(t, testConfig(), &fakeSubmitter{})
	first := buf.Append(domain.OutputEntry{StudentID: "s1", Kind: domain.EntryAck, Text: "one"})
	buf.Append(domain.OutputEntry{StudentID: "s1", Kind: domain.EntryFeedback, Text: "two"})
	buf.Append(domain.OutputEntry{StudentID: "s2", Kind: domain.EntryFeedback, Text: "other"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recent_outputs?student_id=s1&since=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got recentResponse
	decode(t, w, &got)
	if len(got.Outputs) != 1 || got.Outputs[0].Text != "two" || got.Outputs[0].Ordinal <= first.Ordinal {
		t.Errorf("outputs = %+v", got.Outputs)
	}
	if got.Latest != 3 {
		t.Errorf("latest = %d", got.Latest)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recent_outputs?student_id=s1&since=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(), &fakeSubmitter{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRootServesClient(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(), &fakeSubmitter{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "TutorMesh") {
		t.Errorf("status = %d", w.Code)
	}
}

func TestOutputsWebsocketPushesEntries(t *testing.T) {
	router, buf := newTestRouter(t, testConfig(), &fakeSubmitter{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	buf.Append(domain.OutputEntry{StudentID: "s1", Kind: domain.EntryAck, Text: "backlog"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/outputs?student_id=s1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var e domain.OutputEntry
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if e.Text != "backlog" {
		t.Errorf("first entry = %+v", e)
	}

	buf.Append(domain.OutputEntry{StudentID: "s2", Kind: domain.EntryAck, Text: "not mine"})
	buf.Append(domain.OutputEntry{StudentID: "s1", Kind: domain.EntryFeedback, Text: "live"})
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if e.Text != "live" || e.Kind != domain.EntryFeedback {
		t.Errorf("live entry = %+v", e)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Close()
	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("expected one request per window")
	}
	if !rl.Allow("b") {
		t.Error("keys must be limited independently")
	}
	if ok, wait := rl.Reserve("a"); ok || wait <= 0 || wait > 50*time.Millisecond {
		t.Errorf("Reserve = %v, %v", ok, wait)
	}
	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("a") {
		t.Error("window should have slid")
	}
}

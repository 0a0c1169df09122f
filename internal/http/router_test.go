package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voice-form-service/internal/events"
	"voice-form-service/internal/form"
	"voice-form-service/internal/models"
	"voice-form-service/internal/speech"
	"voice-form-service/internal/speech/mock"
	"voice-form-service/internal/understand"
)

// nopRecognizer accepts every call and never produces results on its
// own; utterances arrive via the text ingress.
type nopRecognizer struct{}

func (nopRecognizer) Start(ctx context.Context, cb speech.Callback) error { return nil }
func (nopRecognizer) SendAudio(ctx context.Context, audio []byte) error   { return nil }
func (nopRecognizer) Stop() error                                         { return nil }
func (nopRecognizer) Close() error                                        { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *form.Controller) {
	return newTestServerWithDevice(t, func() speech.Recognizer { return nopRecognizer{} })
}

func newTestServerWithDevice(t *testing.T, newDevice func() speech.Recognizer) (*httptest.Server, *form.Controller) {
	t.Helper()

	fc := form.New(zerolog.Nop(), nil)
	pub := events.New(&events.Config{Enabled: false})
	svc := understand.New(understand.Config{AIEnabled: false})

	manager := speech.NewManager(func(id string) *speech.Session {
		return speech.NewSession(id, speech.Config{
			Recognizer:   newDevice(),
			Understander: svc,
			Sink: func(u models.Understanding) {
				fc.Apply(u)
			},
		})
	})

	h := &Handler{
		Sessions:   manager,
		Form:       fc,
		Understand: svc,
		Publisher:  pub,
		Log:        zerolog.Nop(),
	}

	ts := httptest.NewServer(NewRouter(h))
	t.Cleanup(ts.Close)
	t.Cleanup(manager.CloseAll)
	return ts, fc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func createSession(t *testing.T, ts *httptest.Server) sessionView {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/sessions", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	var v sessionView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createSession(t, ts)
	if v.State != "IDLE" {
		t.Errorf("new session state = %s, want IDLE", v.State)
	}

	resp := postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/start", nil)
	var started sessionView
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if started.State != "LISTENING" {
		t.Errorf("state after start = %s, want LISTENING", started.State)
	}

	resp = postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/stop", nil)
	var stopped sessionView
	if err := json.NewDecoder(resp.Body).Decode(&stopped); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if stopped.State != "IDLE" {
		t.Errorf("state after stop = %s, want IDLE", stopped.State)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/sessions/no-such-session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPostUtterance_UpdatesForm(t *testing.T) {
	ts, fc := newTestServer(t)

	v := createSession(t, ts)
	postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/start", nil).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/utterances", models.Utterance{
		Text:    "my email is jane@example.com",
		IsFinal: true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("utterance status = %d, want 202", resp.StatusCode)
	}

	deadline := time.After(2 * time.Second)
	for {
		values, _ := fc.Snapshot()
		if values[models.FieldEmail] == "jane@example.com" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("form never updated: %v", values)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPostUtterance_RequiresListening(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createSession(t, ts)
	resp := postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/utterances", models.Utterance{
		Text:    "hello",
		IsFinal: true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 while idle", resp.StatusCode)
	}
}

func TestPostUtterance_BadPayload(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createSession(t, ts)
	postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/start", nil).Body.Close()

	resp, err := http.Post(ts.URL+"/v1/sessions/"+v.ID+"/utterances", "application/json",
		bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPostAudio_DrivesRecognizerToForm(t *testing.T) {
	ts, fc := newTestServerWithDevice(t, func() speech.Recognizer {
		return mock.NewScripted([]mock.SimulatedUtterance{
			{
				Interims:   []string{"my email"},
				Final:      "my email is jane@example.com",
				Confidence: 0.9,
			},
		})
	})

	v := createSession(t, ts)
	postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/start", nil).Body.Close()

	// Each chunk advances the script one step: interim, then final.
	for i := 0; i < 2; i++ {
		resp, err := http.Post(ts.URL+"/v1/sessions/"+v.ID+"/audio", "application/octet-stream",
			bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04}))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("audio chunk %d status = %d, want 202", i, resp.StatusCode)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		values, _ := fc.Snapshot()
		if values[models.FieldEmail] == "jane@example.com" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("recognized audio never reached the form: %v", values)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPostAudio_RequiresListening(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createSession(t, ts)
	resp, err := http.Post(ts.URL+"/v1/sessions/"+v.ID+"/audio", "application/octet-stream",
		bytes.NewReader([]byte{0x01}))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 while idle", resp.StatusCode)
	}
}

func TestPostAudio_EmptyBodyRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createSession(t, ts)
	postJSON(t, ts.URL+"/v1/sessions/"+v.ID+"/start", nil).Body.Close()

	resp, err := http.Post(ts.URL+"/v1/sessions/"+v.ID+"/audio", "application/octet-stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFormEndpoints(t *testing.T) {
	ts, fc := newTestServer(t)

	fc.Apply(models.Understanding{
		Intent: models.IntentProvideInfo,
		DetectedFields: []models.DetectedField{
			{Field: models.FieldName, Value: "Jane Doe", Confidence: 0.8},
		},
	})

	resp, err := http.Get(ts.URL + "/v1/form")
	if err != nil {
		t.Fatal(err)
	}
	var fv formView
	if err := json.NewDecoder(resp.Body).Decode(&fv); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if fv.Values[models.FieldName] != "Jane Doe" {
		t.Errorf("form values = %v", fv.Values)
	}

	resp = postJSON(t, ts.URL+"/v1/form/submit", nil)
	var res form.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !res.Submitted || res.Record == nil || res.Record.Name != "Jane Doe" {
		t.Errorf("submit result = %+v", res)
	}

	resp = postJSON(t, ts.URL+"/v1/form/clear", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createSession(t, ts)
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+v.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/v1/sessions/" + v.ID)
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", getResp.StatusCode)
	}
}

func TestBackendAvailability_NoAnalyzer(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/backend/availability")
	if err != nil {
		t.Fatal(err)
	}
	var av availabilityView
	if err := json.NewDecoder(resp.Body).Decode(&av); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if av.Available {
		t.Error("expected unavailable with no analyzer configured")
	}
	if av.RateLimited {
		t.Error("expected not rate limited initially")
	}
}

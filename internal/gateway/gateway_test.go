package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proctord/internal/audit"
	"proctord/internal/chain"
	"proctord/internal/snapshot"
)

func testRecord(t *testing.T) *Record {
	t.Helper()
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	flags := []audit.Flag{
		{Type: audit.TypeTabSwitch, Message: "Tab switch detected", Timestamp: started.Add(5 * time.Minute)},
		{Type: audit.TypeNoFace, Message: "No face visible in frame", Timestamp: started.Add(9 * time.Minute)},
	}
	sealed, err := chain.Seal("exam-042", flags)
	if err != nil {
		t.Fatalf("seal test flags: %v", err)
	}

	return &Record{
		SessionID:   "sess-1",
		ExamID:      "exam-042",
		StudentID:   "student-7",
		Answers:     map[string]string{"q1": "b"},
		Score:       5,
		MaxScore:    18,
		Flags:       sealed,
		StartedAt:   started,
		SubmittedAt: started.Add(30 * time.Minute),
	}
}

func marshal(t *testing.T, rec *Record) []byte {
	t.Helper()
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return body
}

func TestValidateRecord(t *testing.T) {
	if err := ValidateRecord(marshal(t, testRecord(t))); err != nil {
		t.Errorf("valid record failed schema validation: %v", err)
	}
}

func TestRecordWireNames(t *testing.T) {
	// The platform's submit route reads body.flags and body.captures;
	// anything else stores empty proctoring evidence.
	rec := testRecord(t)
	rec.Snapshots = []snapshot.Snapshot{
		{Image: []byte{0xff, 0xd8}, Reason: "MULTIPLE_FACES", Timestamp: rec.StartedAt},
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(marshal(t, rec), &payload); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if _, ok := payload["flags"]; !ok {
		t.Error("submission body missing flags key")
	}
	if _, ok := payload["captures"]; !ok {
		t.Error("submission body missing captures key")
	}
	for _, stale := range []string{"proctoringFlags", "snapshots"} {
		if _, ok := payload[stale]; ok {
			t.Errorf("submission body carries stale key %q", stale)
		}
	}
}

func TestValidateRecord_EmptyFlagMessage(t *testing.T) {
	// The schema requires message on every flag, so a message-less flag
	// must still serialize the key instead of dropping it.
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sealed, err := chain.Seal("exam-042", []audit.Flag{
		{Type: audit.TypeTabSwitch, Timestamp: started.Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	rec := testRecord(t)
	rec.Flags = sealed
	if err := ValidateRecord(marshal(t, rec)); err != nil {
		t.Errorf("empty-message flag failed validation: %v", err)
	}
}

func TestValidateRecord_EmptyFlagList(t *testing.T) {
	rec := testRecord(t)
	rec.Flags = []audit.Flag{}
	if err := ValidateRecord(marshal(t, rec)); err != nil {
		t.Errorf("a clean session has no flags and must validate: %v", err)
	}
}

func TestValidateRecord_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing session id", func(r *Record) { r.SessionID = "" }},
		{"missing student id", func(r *Record) { r.StudentID = "" }},
		{"negative score", func(r *Record) { r.Score = -1 }},
		{"unsealed flag", func(r *Record) { r.Flags[1].Hash = "" }},
		{"malformed hash", func(r *Record) { r.Flags[0].Hash = "not-hex" }},
		{"uppercase hash", func(r *Record) { r.Flags[0].Hash = "ABC123" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord(t)
			tt.mutate(rec)
			if err := ValidateRecord(marshal(t, rec)); err == nil {
				t.Error("expected schema rejection")
			}
		})
	}
}

func TestValidateRecord_MalformedJSON(t *testing.T) {
	if err := ValidateRecord([]byte("{nope")); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}

func submitClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "platform-token"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestSubmit(t *testing.T) {
	var got Record
	c := submitClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/exams/exam-042/submit" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer platform-token" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode submission: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.Submit(context.Background(), testRecord(t)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got.SessionID != "sess-1" || len(got.Flags) != 2 {
		t.Errorf("platform received wrong record: %+v", got)
	}
}

func TestSubmit_Duplicate(t *testing.T) {
	c := submitClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := c.Submit(context.Background(), testRecord(t))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestSubmit_Rejected(t *testing.T) {
	c := submitClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	err := c.Submit(context.Background(), testRecord(t))
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestSubmit_ServerErrorIsRetryable(t *testing.T) {
	c := submitClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Submit(context.Background(), testRecord(t))
	if err == nil {
		t.Fatal("expected an error on 502")
	}
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrDuplicate) {
		t.Errorf("5xx must not classify as rejection or duplicate: %v", err)
	}
}

func TestSubmit_ValidatesBeforeSending(t *testing.T) {
	called := false
	c := submitClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := testRecord(t)
	rec.SessionID = ""
	if err := c.Submit(context.Background(), rec); err == nil {
		t.Error("invalid record should fail before the request")
	}
	if called {
		t.Error("invalid record must not reach the platform")
	}
}

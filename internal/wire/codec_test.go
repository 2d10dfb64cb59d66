package wire

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/SirClappington/checkq/internal/domain"
)

func TestForContentType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                                ContentTypeJSON,
		"application/json":                ContentTypeJSON,
		"application/json; charset=utf-8": ContentTypeJSON,
		"application/msgpack":             ContentTypeMsgpack,
		"application/x-msgpack":           ContentTypeMsgpack,
		"text/plain":                      ContentTypeJSON,
		";;bad":                           ContentTypeJSON,
	}
	for in, want := range tests {
		if got := ForContentType(in).ContentType(); got != want {
			t.Fatalf("ForContentType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	var req CheckerRequest
	err := JSON{}.Decode(strings.NewReader(`{"type":1,"amount":5,"bogus":true}`), &req)
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestMsgpackUsesAgentFieldNames(t *testing.T) {
	t.Parallel()
	// an agent encoding a plain map must be understood
	raw, err := msgpack.Marshal(map[string]any{"type": 2, "id": "job-1", "lease": "l-1", "status": 3, "message": "declined"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var req CheckerRequest
	if err := (Msgpack{}).Decode(bytes.NewReader(raw), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Type != OpReport || req.ID != "job-1" || req.Lease != "l-1" || req.Status != 3 || req.Message != "declined" {
		t.Fatalf("unexpected request %+v", req)
	}

	var buf bytes.Buffer
	if err := (Msgpack{}).Encode(&buf, FetchResponse{Jobs: []CheckerJob{{ID: "a", Payload: "p", CheckClass: 1}}, Lease: "l", Paused: false}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if err := msgpack.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := out["jobs"]; !ok || out["lease"] != "l" {
		t.Fatalf("unexpected keys %v", out)
	}
}

func TestNewJobViewHidesLease(t *testing.T) {
	t.Parallel()
	owner, msg, sub := "secret-lease", "lease expired", "sub-1"
	exp := time.Now()
	v := NewJobView(domain.Job{
		ID: "j", SubmissionID: &sub, Status: domain.Unknown,
		LeaseOwner: &owner, LeaseExpiresAt: &exp, ResultMessage: &msg,
	})
	if v.Status != 4 || v.StatusName != "unknown" || v.ResultMessage != msg || v.SubmissionID != sub {
		t.Fatalf("unexpected view %+v", v)
	}
	var buf bytes.Buffer
	if err := (JSON{}).Encode(&buf, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(buf.String(), owner) {
		t.Fatalf("lease token leaked: %s", buf.String())
	}
}

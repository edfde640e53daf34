package rewrite

import (
	"bytes"
	"testing"

	"github.com/tidwall/gjson"
)

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }

func TestModelOverrideReplacesModel(t *testing.T) {
	rw := &Rewriter{ModelOverride: "glm-5-fp8"}
	body := []byte(`{"model":"claude-haiku-4-5","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	out, model := rw.Rewrite(body)
	if model != "claude-haiku-4-5" {
		t.Fatalf("original model = %q, want claude-haiku-4-5", model)
	}
	if got := gjson.GetBytes(out, "model").Str; got != "glm-5-fp8" {
		t.Fatalf("model = %q, want glm-5-fp8", got)
	}
	if !gjson.GetBytes(out, "stream").Bool() {
		t.Fatal("stream field was not preserved")
	}
	if got := gjson.GetBytes(out, "messages.0.content").Str; got != "hi" {
		t.Fatalf("messages mangled: %q", got)
	}
}

func TestDefaultsFillAbsentAndNull(t *testing.T) {
	rw := &Rewriter{MaxTokens: int64p(65536), Temperature: float64p(0.7), TopP: float64p(0.9)}
	body := []byte(`{"model":"m","max_tokens":null,"messages":[]}`)

	out, _ := rw.Rewrite(body)
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 65536 {
		t.Fatalf("max_tokens = %d, want 65536", got)
	}
	if got := gjson.GetBytes(out, "temperature").Float(); got != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", got)
	}
	if got := gjson.GetBytes(out, "top_p").Float(); got != 0.9 {
		t.Fatalf("top_p = %v, want 0.9", got)
	}
}

func TestDefaultsNeverOverwritePresentValues(t *testing.T) {
	rw := &Rewriter{MaxTokens: int64p(65536), Temperature: float64p(0.7)}
	body := []byte(`{"model":"m","max_tokens":100,"temperature":0,"messages":[]}`)

	out, _ := rw.Rewrite(body)
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 100 {
		t.Fatalf("max_tokens = %d, want client value 100", got)
	}
	// Explicit zero counts as present.
	if got := gjson.GetBytes(out, "temperature").Float(); got != 0 {
		t.Fatalf("temperature = %v, want client value 0", got)
	}
}

func TestMalformedBodyForwardedUnchanged(t *testing.T) {
	rw := &Rewriter{ModelOverride: "x", MaxTokens: int64p(1)}
	for _, body := range [][]byte{
		[]byte(`{"model": truncated`),
		[]byte(`[1,2,3]`),
		[]byte(`"just a string"`),
		[]byte(``),
	} {
		out, model := rw.Rewrite(body)
		if !bytes.Equal(out, body) {
			t.Fatalf("body %q was modified to %q", body, out)
		}
		if model != UnknownModel {
			t.Fatalf("model = %q, want %q", model, UnknownModel)
		}
	}
}

func TestMissingModelReportsUnknown(t *testing.T) {
	rw := &Rewriter{ModelOverride: "glm-5-fp8"}
	out, model := rw.Rewrite([]byte(`{"messages":[]}`))
	if model != UnknownModel {
		t.Fatalf("model = %q, want %q", model, UnknownModel)
	}
	if got := gjson.GetBytes(out, "model").Str; got != "glm-5-fp8" {
		t.Fatalf("override not inserted, model = %q", got)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	rw := &Rewriter{ModelOverride: "glm-5-fp8", MaxTokens: int64p(65536), Temperature: float64p(0.7)}
	body := []byte(`{"model":"claude","messages":[{"role":"user","content":"x"}],"metadata":{"user_id":"u1"}}`)

	once, _ := rw.Rewrite(body)
	twice, _ := rw.Rewrite(once)
	if !bytes.Equal(once, twice) {
		t.Fatalf("rewrite not idempotent:\n once: %s\ntwice: %s", once, twice)
	}
}

func TestUnknownFieldsPreserved(t *testing.T) {
	rw := &Rewriter{ModelOverride: "m2"}
	body := []byte(`{"model":"m1","tools":[{"name":"bash"}],"metadata":{"user_id":"abc"},"anthropic_beta":["x"]}`)

	out, _ := rw.Rewrite(body)
	if got := gjson.GetBytes(out, "tools.0.name").Str; got != "bash" {
		t.Fatalf("tools lost: %s", out)
	}
	if got := gjson.GetBytes(out, "metadata.user_id").Str; got != "abc" {
		t.Fatalf("metadata lost: %s", out)
	}
	if got := gjson.GetBytes(out, "anthropic_beta.0").Str; got != "x" {
		t.Fatalf("anthropic_beta lost: %s", out)
	}
}

func TestNoConfigurationIsANoOp(t *testing.T) {
	rw := &Rewriter{}
	body := []byte(`{"model":"claude","messages":[]}`)
	out, model := rw.Rewrite(body)
	if !bytes.Equal(out, body) {
		t.Fatalf("body modified with no configuration: %s", out)
	}
	if model != "claude" {
		t.Fatalf("model = %q, want claude", model)
	}
}

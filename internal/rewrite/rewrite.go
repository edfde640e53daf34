// Package rewrite patches /v1/messages request bodies before forwarding.
//
// The rewriter operates on untrusted client JSON and is strictly
// best-effort: it only touches the fields it owns (model and the default
// sampling triple) and forwards everything else byte-exact. A body that
// fails to parse is forwarded unchanged.
package rewrite

import (
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UnknownModel is reported when the body carries no readable model field.
const UnknownModel = "unknown"

// Rewriter applies a model override and default sampling parameters.
// Nil pointer fields mean "no default configured".
type Rewriter struct {
	ModelOverride string
	MaxTokens     *int64
	Temperature   *float64
	TopP          *float64
}

// Rewrite returns the patched body and the model name the client sent.
// The original model is retained for observability even when overridden.
//
// Semantics:
//   - non-object or malformed JSON: original bytes, model "unknown"
//   - ModelOverride set: top-level model replaced (created if absent)
//   - each default: inserted only when the key is absent or explicitly null
//
// Applying Rewrite twice with the same configuration yields the same bytes.
func (rw *Rewriter) Rewrite(body []byte) ([]byte, string) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		log.Debug().Int("body_size", len(body)).Msg("request body is not a JSON object, forwarding unchanged")
		return body, UnknownModel
	}

	originalModel := UnknownModel
	if m := gjson.GetBytes(body, "model"); m.Type == gjson.String && m.Str != "" {
		originalModel = m.Str
	}

	out := body
	var err error

	if rw.ModelOverride != "" {
		out, err = sjson.SetBytes(out, "model", rw.ModelOverride)
		if err != nil {
			return body, originalModel
		}
	}
	if rw.MaxTokens != nil {
		if out, err = setIfUnset(out, "max_tokens", *rw.MaxTokens); err != nil {
			return body, originalModel
		}
	}
	if rw.Temperature != nil {
		if out, err = setIfUnset(out, "temperature", *rw.Temperature); err != nil {
			return body, originalModel
		}
	}
	if rw.TopP != nil {
		if out, err = setIfUnset(out, "top_p", *rw.TopP); err != nil {
			return body, originalModel
		}
	}

	return out, originalModel
}

// setIfUnset writes key=value when the key is absent or explicitly null.
// A present non-null value, whatever its type, is left untouched.
func setIfUnset(body []byte, key string, value any) ([]byte, error) {
	existing := gjson.GetBytes(body, key)
	if existing.Exists() && existing.Type != gjson.Null {
		return body, nil
	}
	return sjson.SetBytes(body, key, value)
}

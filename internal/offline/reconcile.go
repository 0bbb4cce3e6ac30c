package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// Reconciler is told when a temp id has been replaced by the id the server
// assigned, so optimistic local records can be rewritten.
type Reconciler interface {
	Reconcile(ctx context.Context, tempID, serverID string) error
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, tempID, serverID string) error

func (f ReconcilerFunc) Reconcile(ctx context.Context, tempID, serverID string) error {
	return f(ctx, tempID, serverID)
}

// extractServerID reads the id of a created record from a response body of
// the form {"id": ...} or {"data": {"id": ...}}. Numeric ids are returned in
// their decimal form.
func extractServerID(body []byte) (string, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return "", false
	}
	if id, ok := scalarID(top["id"]); ok {
		return id, true
	}

	var data map[string]json.RawMessage
	if raw, ok := top["data"]; !ok || json.Unmarshal(raw, &data) != nil {
		return "", false
	}
	return scalarID(data["id"])
}

func scalarID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String(), true
	}
	return "", false
}

// rewriteTempID replaces tempID with serverID in the path segments of Target
// and Resource and in every payload string equal to tempID. It reports
// whether anything changed.
func rewriteTempID(it *PendingWriteIntent, tempID, serverID string) bool {
	changed := false

	if t, ok := replaceSegment(it.Target, tempID, serverID); ok {
		it.Target, changed = t, true
	}
	if r, ok := replaceSegment(it.Resource, tempID, serverID); ok {
		it.Resource, changed = r, true
	}
	if p, ok := replacePayload(it.Payload, tempID, serverID); ok {
		it.Payload, changed = p, true
	}

	return changed
}

// referencesTempID reports whether the target or payload of it holds tempID
// in a place rewriteTempID would replace.
func referencesTempID(it *PendingWriteIntent, tempID string) bool {
	if _, ok := replaceSegment(it.Target, tempID, ""); ok {
		return true
	}
	if !bytes.Contains(it.Payload, []byte(tempID)) {
		return false
	}
	_, ok := replacePayload(it.Payload, tempID, "")
	return ok
}

func replaceSegment(p, old, repl string) (string, bool) {
	pathPart, query, hasQuery := strings.Cut(p, "?")

	segments := strings.Split(pathPart, "/")
	changed := false
	for i, s := range segments {
		if s == old {
			segments[i] = repl
			changed = true
		}
	}
	if !changed {
		return p, false
	}

	out := strings.Join(segments, "/")
	if hasQuery {
		out += "?" + query
	}
	return out, true
}

func replacePayload(payload json.RawMessage, old, repl string) (json.RawMessage, bool) {
	if len(payload) == 0 || !bytes.Contains(payload, []byte(old)) {
		return payload, false
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return payload, false
	}

	doc, changed := replaceValue(doc, old, repl)
	if !changed {
		return payload, false
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return payload, false
	}
	return out, true
}

func replaceValue(v any, old, repl string) (any, bool) {
	switch t := v.(type) {
	case string:
		if t == old {
			return repl, true
		}
	case []any:
		changed := false
		for i := range t {
			var c bool
			t[i], c = replaceValue(t[i], old, repl)
			changed = changed || c
		}
		return t, changed
	case map[string]any:
		changed := false
		for k := range t {
			var c bool
			t[k], c = replaceValue(t[k], old, repl)
			changed = changed || c
		}
		return t, changed
	}
	return v, false
}

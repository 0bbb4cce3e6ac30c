package offline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractServerID(t *testing.T) {
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{`{"id":"veh-9"}`, "veh-9", true},
		{`{"id":12345}`, "12345", true},
		{`{"data":{"id":"veh-10","plate_number":"X"}}`, "veh-10", true},
		{`{"data":{"id":7}}`, "7", true},
		{`{"id":""}`, "", false},
		{`{"data":[{"id":"a"}]}`, "", false},
		{`{"ok":true}`, "", false},
		{`[]`, "", false},
		{``, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := extractServerID([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRewriteTempID(t *testing.T) {
	it := &PendingWriteIntent{
		Target:   "/api/vehicles/tmp-1/tests?office=tmp-1",
		Resource: "/api/vehicles/tmp-1",
		Payload:  json.RawMessage(`{"vehicle_id":"tmp-1","notes":"tmp-1 checked","ids":["tmp-1","v2"],"co":1.25}`),
	}

	assert.True(t, rewriteTempID(it, "tmp-1", "srv-1"))
	assert.Equal(t, "/api/vehicles/srv-1/tests?office=tmp-1", it.Target)
	assert.Equal(t, "/api/vehicles/srv-1", it.Resource)
	assert.JSONEq(t, `{"vehicle_id":"srv-1","notes":"tmp-1 checked","ids":["srv-1","v2"],"co":1.25}`, string(it.Payload))

	assert.False(t, rewriteTempID(it, "tmp-404", "srv-2"))
}

func TestRewriteTempIDMatchesWholeSegments(t *testing.T) {
	it := &PendingWriteIntent{Target: "/api/vehicles/tmp-10", Resource: "/api/vehicles/tmp-10"}
	assert.False(t, rewriteTempID(it, "tmp-1", "srv-1"))
	assert.Equal(t, "/api/vehicles/tmp-10", it.Target)
}

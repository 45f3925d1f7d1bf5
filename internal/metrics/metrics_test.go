package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRecorderBuildsInstruments(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestRecordRequestDoesNotPanicWithoutSDK(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	r.RecordRequest(context.Background(), "query", true, true, 0.01)
	r.RecordRequest(context.Background(), "query", false, true, 0.02)
	r.RecordRequest(context.Background(), "insert", false, false, 0.03)
}

func TestRecordRequestNilRecorderIsNoOp(t *testing.T) {
	var r *Recorder
	r.RecordRequest(context.Background(), "query", true, true, 0.01)
}

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"commune/cmd/identity/ids"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("COMMUNE_CONFIG_FILE", "")
	t.Setenv("COMMUNE_WORKER_ID", "")
	t.Setenv("COMMUNE_ID_EPOCH_MS", "")

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIDNext(t *testing.T) {
	out, err := run(t, "id", "next", "--count", "5", "--worker-id", "42")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 5)

	var prev ids.ID
	for _, l := range lines {
		id, err := ids.Parse(l)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		assert.Equal(t, int64(42), ids.Decode(id).WorkerID)
		prev = id
	}
}

func TestIDNext_RejectsBadWorker(t *testing.T) {
	_, err := run(t, "id", "next", "--worker-id", "4096")
	require.Error(t, err)
	assert.ErrorIs(t, err, ids.ErrWorkerIDOutOfRange)
}

func TestIDDecode(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts := when.UnixMilli() - ids.DefaultEpoch
	id := ids.DefaultLayout.Pack(ts, 7, 99)

	out, err := run(t, "id", "decode", id.String())
	require.NoError(t, err)

	var got decodedID
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, ts, got.Timestamp)
	assert.Equal(t, int64(7), got.WorkerID)
	assert.Equal(t, int64(99), got.Sequence)
	assert.True(t, when.Equal(got.Time))
}

func TestIDDecode_Invalid(t *testing.T) {
	_, err := run(t, "id", "decode", "not-a-number")
	require.Error(t, err)
	assert.ErrorIs(t, err, ids.ErrInvalidID)
}

package procscan

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseThreadStat(t *testing.T) {
	stat, err := ParseThreadStat(42, []byte(statLine(42, "worker-a", 120, 30)))
	require.NoError(t, err)
	require.Equal(t, ThreadStat{TID: 42, Name: "(worker-a)", UTime: 120, STime: 30, Valid: true}, stat)
}

func TestParseThreadStatCommWithSpacesAndParens(t *testing.T) {
	stat, err := ParseThreadStat(7, []byte(statLine(7, "tmux: serv) x", 9, 4)))
	require.NoError(t, err)
	require.True(t, stat.Valid)
	require.Equal(t, "(tmux: serv) x)", stat.Name)
	require.EqualValues(t, 9, stat.UTime)
	require.EqualValues(t, 4, stat.STime)
}

func TestParseThreadStatMalformed(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"Empty", ""},
		{"NoComm", "42 worker S 1 42 42 0 -1 0 0 0 0 0 120 30"},
		{"MissingPID", "(worker) S 1 42 42 0 -1 0 0 0 0 0 120 30"},
		{"ForeignPID", statLine(43, "worker", 1, 1)},
		{"Truncated", "42 (worker) S 1 42 42 0 -1 0 0 0 0 0 120"},
		{"NonNumericUTime", "42 (worker) S 1 42 42 0 -1 0 0 0 0 0 abc 30"},
		{"NegativeSTime", "42 (worker) S 1 42 42 0 -1 0 0 0 0 0 120 -3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stat, err := ParseThreadStat(42, []byte(tc.data))
			require.Error(t, err)
			require.True(t, errors.Is(err, errMalformedStat))
			require.False(t, stat.Valid)
			require.Equal(t, 42, stat.TID)
		})
	}
}

func TestThreadStatJSON(t *testing.T) {
	valid := ThreadStat{TID: 42, Name: "(worker-a)", UTime: 120, STime: 30, Valid: true}
	data, err := json.Marshal(valid)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"(worker-a)","tid":42,"utime":120,"stime":30}`, string(data))

	data, err = json.Marshal(invalidThreadStat(43))
	require.NoError(t, err)
	require.JSONEq(t, `{"tid":null}`, string(data))

	var snapshot ProcessSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"ticksClockNow":12.5,"threadStats":[{"name":"(a)","tid":1,"utime":2,"stime":3},{"tid":null}]}`), &snapshot))
	require.Equal(t, 12.5, snapshot.TicksClockNow)
	require.Len(t, snapshot.ThreadStats, 2)
	require.Equal(t, ThreadStat{TID: 1, Name: "(a)", UTime: 2, STime: 3, Valid: true}, snapshot.ThreadStats[0])
	require.False(t, snapshot.ThreadStats[1].Valid)
	require.Equal(t, 1, snapshot.Invalid())
}

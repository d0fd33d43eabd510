package gcs

import (
	"crypto/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomIDs(t *testing.T, count int) (ids [][]byte) {
	t.Helper()
	for n := 0; n < count; n++ {
		id := make([]byte, 16)
		_, err := rand.Read(id)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestCompleteness(t *testing.T) {
	// Every inserted element must be found. False negatives are a protocol violation.
	ids := randomIDs(t, 500)
	f := Build(ids, DefaultP)

	for _, id := range ids {
		require.True(t, f.MightContain(id), "inserted element reported absent")
	}
}

func TestFalsePositiveRate(t *testing.T) {
	ids := randomIDs(t, 200)
	f := Build(ids, 10) // 1/1024 target rate

	falsePositives := 0
	const probes = 20000
	for n := 0; n < probes; n++ {
		if f.MightContain([]byte("probe-" + strconv.Itoa(n))) {
			falsePositives++
		}
	}

	// Expectation is ~20 at 1/1024. Allow a generous margin.
	require.Less(t, falsePositives, 200, "false positive rate far above 1/M")
}

func TestEmptyFilter(t *testing.T) {
	f := Build(nil, DefaultP)
	require.False(t, f.MightContain([]byte("anything")))
}

func TestEncodeDecode(t *testing.T) {
	ids := randomIDs(t, 100)
	f := Build(ids, DefaultP)

	decoded, err := Decode(f.Encode())
	require.NoError(t, err)
	require.Equal(t, f.P, decoded.P)
	require.Equal(t, f.N, decoded.N)

	for _, id := range ids {
		require.True(t, decoded.MightContain(id))
	}

	_, err = Decode([]byte{1, 2})
	require.Equal(t, ErrTruncated, err)
}

func TestDuplicateElements(t *testing.T) {
	id := []byte("same")
	f := Build([][]byte{id, id, id}, DefaultP)
	require.True(t, f.MightContain(id))
}

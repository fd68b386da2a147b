package git

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressWriterParsesSidebandLines(t *testing.T) {
	var updates []TransferProgress
	w := newProgressWriter(func(p TransferProgress) { updates = append(updates, p) })

	chunks := []string{
		"Counting objects: 100% (12/12), done.\n",
		"Compressing objects:  50% (4/8)\rCompressing objects: 100% (8/8), done.\n",
		"Total 12 (delta 3), reused 0 (delta 0)\n",
		"Receiving objects:  75% (9/12), 1.50 KiB",
		"\rResolving deltas: 100% (3/3), done.\n",
		"some unrelated banner\n",
	}
	for _, c := range chunks {
		_, err := w.Write([]byte(c))
		require.NoError(t, err)
	}

	require.Len(t, updates, 4)
	last := updates[len(updates)-1]
	require.Equal(t, 12, last.TotalObjects)
	require.Equal(t, 9, last.ReceivedObjects)
	require.Zero(t, last.IndexedObjects, "compression is server-side work")
	require.Equal(t, int64(1536), last.ReceivedBytes)
	require.Equal(t, 3, last.IndexedDeltas)
	require.Equal(t, 3, last.TotalDeltas)
}

func TestProgressWriterNilCallback(t *testing.T) {
	require.Nil(t, newProgressWriter(nil))
}

package autofile

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reinetwork/reimint/libs/log"
)

func createTestGroup(ctx context.Context, t *testing.T, headSizeLimit int64, opts ...func(*Group)) *Group {
	t.Helper()

	headPath := filepath.Join(t.TempDir(), "myfile")
	opts = append([]func(*Group){
		GroupHeadSizeLimit(headSizeLimit),
		// keep the background routine out of the way
		GroupCheckDuration(time.Hour),
	}, opts...)
	g, err := OpenGroup(log.NewNopLogger(), headPath, opts...)
	require.NoError(t, err)
	require.NoError(t, g.Open(ctx))
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func assertGroupInfo(t *testing.T, gInfo GroupInfo, minIndex, maxIndex int, totalSize, headSize int64) {
	t.Helper()
	assert.Equal(t, minIndex, gInfo.MinIndex)
	assert.Equal(t, maxIndex, gInfo.MaxIndex)
	assert.Equal(t, totalSize, gInfo.TotalSize)
	assert.Equal(t, headSize, gInfo.HeadSize)
}

func readGroupInfo(t *testing.T, g *Group) GroupInfo {
	t.Helper()
	info, err := g.ReadGroupInfo()
	require.NoError(t, err)
	return info
}

func TestCheckHeadSizeLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 1000*1000)

	// At first, there are no files.
	assertGroupInfo(t, readGroupInfo(t, g), 0, 0, 0, 0)

	// Write 1000 bytes 999 times.
	chunk := bytes.Repeat([]byte{'x'}, 1000)
	for i := 0; i < 999; i++ {
		_, err := g.Write(chunk, false)
		require.NoError(t, err)
	}
	require.NoError(t, g.Flush())
	assertGroupInfo(t, readGroupInfo(t, g), 0, 0, 999000, 999000)

	// Even calling checkHeadSizeLimit manually won't rotate it.
	g.checkHeadSizeLimit()
	assertGroupInfo(t, readGroupInfo(t, g), 0, 0, 999000, 999000)

	// Reaching the limit exactly is still not over it.
	_, err := g.Write(chunk, true)
	require.NoError(t, err)
	g.checkHeadSizeLimit()
	assertGroupInfo(t, readGroupInfo(t, g), 0, 0, 1000000, 1000000)

	// One more byte, and the head is rotated.
	_, err = g.Write([]byte{'y'}, false)
	require.NoError(t, err)
	g.checkHeadSizeLimit()
	assertGroupInfo(t, readGroupInfo(t, g), 0, 1, 1000001, 0)
	assert.Equal(t, 1, g.MaxIndex())

	// Writes land in a fresh head.
	_, err = g.Write(chunk, true)
	require.NoError(t, err)
	assertGroupInfo(t, readGroupInfo(t, g), 0, 1, 1001001, 1000)
}

func TestRotateFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)

	_, err := g.Write([]byte("Line 1\n"), false)
	require.NoError(t, err)
	_, err = g.Write([]byte("Line 2\n"), false)
	require.NoError(t, err)
	g.RotateFile()
	_, err = g.Write([]byte("Line 3\n"), true)
	require.NoError(t, err)

	body1, err := os.ReadFile(g.HeadPath() + ".000")
	require.NoError(t, err)
	assert.Equal(t, "Line 1\nLine 2\n", string(body1))

	body2, err := os.ReadFile(g.HeadPath())
	require.NoError(t, err)
	assert.Equal(t, "Line 3\n", string(body2))
}

func TestGroupReaderAcrossSegments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)

	var want []byte
	for i := 0; i < 3; i++ {
		part := bytes.Repeat([]byte{byte('a' + i)}, 100+i)
		want = append(want, part...)
		_, err := g.Write(part, true)
		require.NoError(t, err)
		if i < 2 {
			g.RotateFile()
		}
	}
	assertGroupInfo(t, readGroupInfo(t, g), 0, 2, int64(len(want)), 102)

	r, err := g.NewReaderFromStart()
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, r.CurIndex())
}

func TestGroupReaderPartialRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)

	_, err := g.Write([]byte("0123456789"), true)
	require.NoError(t, err)
	g.RotateFile()
	_, err = g.Write([]byte("abcdef"), true)
	require.NoError(t, err)

	r, err := g.NewReader(0)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 12)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123456789ab", string(buf))

	// only four bytes are left
	buf = make([]byte, 8)
	n, err := io.ReadFull(r, buf)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
	assert.Equal(t, "cdef", string(buf[:n]))

	_, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)
}

func TestCheckTotalSizeLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0, GroupTotalSizeLimit(100), GroupMaxFilesToRemove(2))

	chunk := bytes.Repeat([]byte{'z'}, 50)
	for i := 0; i < 5; i++ {
		_, err := g.Write(chunk, true)
		require.NoError(t, err)
		g.RotateFile()
	}
	assertGroupInfo(t, readGroupInfo(t, g), 0, 5, 250, 0)

	// at most two segments go per check
	g.checkTotalSizeLimit()
	assertGroupInfo(t, readGroupInfo(t, g), 2, 5, 150, 0)
	assert.Equal(t, 2, g.MinIndex())

	g.checkTotalSizeLimit()
	assertGroupInfo(t, readGroupInfo(t, g), 3, 5, 100, 0)

	// within the limit, nothing else is removed
	g.checkTotalSizeLimit()
	assertGroupInfo(t, readGroupInfo(t, g), 3, 5, 100, 0)

	_, err := g.NewReader(1)
	assert.Error(t, err)
}

func TestCheckTotalSizeLimitKeepsHead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0, GroupTotalSizeLimit(10))

	_, err := g.Write(bytes.Repeat([]byte{'z'}, 20), true)
	require.NoError(t, err)
	g.RotateFile()
	_, err = g.Write(bytes.Repeat([]byte{'z'}, 30), true)
	require.NoError(t, err)

	g.checkTotalSizeLimit()
	info := readGroupInfo(t, g)
	assert.EqualValues(t, 30, info.TotalSize)
	assert.EqualValues(t, 30, info.HeadSize)
	assert.Equal(t, 1, g.MinIndex())
	assert.Equal(t, 1, g.MaxIndex())

	_, err = os.Stat(g.HeadPath())
	require.NoError(t, err)
}

func TestGroupOpenClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)
	assert.True(t, g.IsOpen())
	assert.Equal(t, ErrGroupAlreadyOpen, g.Open(ctx))

	require.NoError(t, g.Close())
	assert.False(t, g.IsOpen())
	assert.Equal(t, ErrGroupNotOpen, g.Close())

	_, err := g.Write([]byte("data"), false)
	assert.Equal(t, ErrGroupNotOpen, err)
	assert.Equal(t, ErrGroupNotOpen, g.Flush())
}

func TestGroupReopenRecoversIndexes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)
	for i := 0; i < 2; i++ {
		_, err := g.Write([]byte("segment"), true)
		require.NoError(t, err)
		g.RotateFile()
	}
	_, err := g.Write([]byte("head"), false)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	g2, err := OpenGroup(log.NewNopLogger(), g.HeadPath(), GroupCheckDuration(time.Hour))
	require.NoError(t, err)
	require.NoError(t, g2.Open(ctx))
	defer g2.Close()

	assert.Equal(t, 0, g2.MinIndex())
	assert.Equal(t, 2, g2.MaxIndex())
	assertGroupInfo(t, readGroupInfo(t, g2), 0, 2, 18, 4)
}

func TestGroupClear(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)
	_, err := g.Write([]byte("stale"), true)
	require.NoError(t, err)
	g.RotateFile()

	require.NoError(t, g.Clear())
	assert.False(t, g.IsOpen())

	entries, err := os.ReadDir(g.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, g.Open(ctx))
	assertGroupInfo(t, readGroupInfo(t, g), 0, 0, 0, 0)
}

func TestGroupRoutineRotatesHead(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	headPath := filepath.Join(t.TempDir(), "myfile")
	g, err := OpenGroup(log.NewNopLogger(), headPath,
		GroupHeadSizeLimit(10),
		GroupCheckDuration(10*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, g.Open(ctx))

	_, err = g.Write(bytes.Repeat([]byte{'r'}, 100), false)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return g.MaxIndex() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, g.Close())
}

func TestGroupTruncateHead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)
	_, err := g.Write([]byte("complete"), true)
	require.NoError(t, err)
	// buffered bytes are flushed before the cut
	_, err = g.Write([]byte("torn"), false)
	require.NoError(t, err)

	require.NoError(t, g.TruncateHead(int64(len("complete"))))
	assertGroupInfo(t, readGroupInfo(t, g), 0, 0, 8, 8)

	_, err = g.Write([]byte("next"), true)
	require.NoError(t, err)

	r, err := g.NewReaderFromStart()
	require.NoError(t, err)
	defer r.Close()
	read, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "completenext", string(read))

	require.NoError(t, g.Close())
	assert.ErrorIs(t, g.TruncateHead(0), ErrGroupNotOpen)
}

func TestGroupLoadSegmentsWithoutOpening(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := createTestGroup(ctx, t, 0)
	for _, chunk := range []string{"first", "second"} {
		_, err := g.Write([]byte(chunk), true)
		require.NoError(t, err)
		g.RotateFile()
	}
	_, err := g.Write([]byte("head"), true)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	ro, err := OpenGroup(log.NewNopLogger(), g.HeadPath())
	require.NoError(t, err)
	require.NoError(t, ro.LoadSegments())
	assert.False(t, ro.IsOpen())
	assert.Equal(t, 0, ro.MinIndex())
	assert.Equal(t, 2, ro.MaxIndex())

	r, err := ro.NewReaderFromStart()
	require.NoError(t, err)
	read, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "firstsecondhead", string(read))

	entries, err := os.ReadDir(g.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, ro.Open(ctx))
	defer ro.Close()
	assert.ErrorIs(t, ro.LoadSegments(), ErrGroupAlreadyOpen)
}

func TestGroupReaderLogsCloseErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	headPath := filepath.Join(t.TempDir(), "myfile")
	g, err := OpenGroup(log.NewLogger(&buf, zerolog.DebugLevel), headPath, GroupCheckDuration(time.Hour))
	require.NoError(t, err)
	require.NoError(t, g.Open(ctx))
	defer g.Close()

	_, err = g.Write([]byte("segment"), true)
	require.NoError(t, err)
	g.RotateFile()
	_, err = g.Write([]byte("head"), true)
	require.NoError(t, err)

	r, err := g.NewReader(0)
	require.NoError(t, err)
	defer r.Close()

	// swap in a handle that is already closed; moving on to the head closes it
	segment := r.curFile
	closed, err := os.Open(segment.Name())
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	r.curFile = closed

	read, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, segment.Close())
	assert.Equal(t, "segmenthead", string(read))
	assert.Contains(t, buf.String(), "failed to close group file")
}

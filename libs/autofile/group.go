package autofile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reinetwork/reimint/libs/log"
)

const (
	defaultGroupCheckDuration = 5000 * time.Millisecond
	defaultHeadSizeLimit      = 10 * 1024 * 1024       // 10MB
	defaultTotalSizeLimit     = 1 * 1024 * 1024 * 1024 // 1GB
	defaultMaxFilesToRemove   = 4

	groupDirPerms = os.FileMode(0700)
	headBufSize   = 4096 * 10
)

var (
	// ErrGroupAlreadyOpen is returned by Open on an open group.
	ErrGroupAlreadyOpen = errors.New("group already open")
	// ErrGroupNotOpen is returned by operations that need an open head.
	ErrGroupNotOpen = errors.New("group not open")
)

/*
You can open a Group to keep restrictions on an AutoFile, like
the maximum size of each chunk, and/or the total amount of bytes
stored in the group.

The first file to be written in the Group.Dir is the head file.

	Dir/
	- <HeadPath>

Once the Head file reaches the size limit, it will be rotated.

	Dir/
	- <HeadPath>.000   // First rolled file
	- <HeadPath>       // New head path, starts empty.
										 // The implicit index is 001.

As more files are written, the index numbers grow...

	Dir/
	- <HeadPath>.000   // First rolled file
	- <HeadPath>.001   // Second rolled file
	- ...
	- <HeadPath>       // New head path

The Group can also be used to binary-search for some line,
assuming that marker lines are written occasionally.
*/
type Group struct {
	ID       string
	Dir      string
	headPath string
	logger   log.Logger
	metrics  *Metrics

	mtx                sync.Mutex
	isOpen             bool
	Head               *AutoFile // The head AutoFile to write to
	headBuf            *bufio.Writer
	ticker             *time.Ticker
	quit               chan struct{}
	routineDone        chan struct{}
	headSizeLimit      int64
	totalSizeLimit     int64
	groupCheckDuration time.Duration
	maxFilesToRemove   int
	minIndex           int // Includes head
	maxIndex           int // Includes head, where Head will move to
}

// OpenGroup creates a new Group with head at headPath. It returns an error if
// it fails to create the directory. The group is not open until Open is
// called.
func OpenGroup(logger log.Logger, headPath string, groupOptions ...func(*Group)) (*Group, error) {
	dir, err := filepath.Abs(filepath.Dir(headPath))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, groupDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create group directory: %w", err)
	}
	headPath = filepath.Join(dir, filepath.Base(headPath))

	if logger == nil {
		logger = log.NewNopLogger()
	}

	g := &Group{
		ID:                 "group:" + headPath,
		Dir:                dir,
		headPath:           headPath,
		logger:             logger,
		metrics:            NopMetrics(),
		headSizeLimit:      defaultHeadSizeLimit,
		totalSizeLimit:     defaultTotalSizeLimit,
		groupCheckDuration: defaultGroupCheckDuration,
		maxFilesToRemove:   defaultMaxFilesToRemove,
	}

	for _, option := range groupOptions {
		option(g)
	}

	return g, nil
}

// GroupCheckDuration allows you to overwrite default groupCheckDuration.
func GroupCheckDuration(duration time.Duration) func(*Group) {
	return func(g *Group) {
		g.groupCheckDuration = duration
	}
}

// GroupHeadSizeLimit allows you to overwrite default head size limit - 10MB.
func GroupHeadSizeLimit(limit int64) func(*Group) {
	return func(g *Group) {
		g.headSizeLimit = limit
	}
}

// GroupTotalSizeLimit allows you to overwrite default total size limit of the group - 1GB.
func GroupTotalSizeLimit(limit int64) func(*Group) {
	return func(g *Group) {
		g.totalSizeLimit = limit
	}
}

// GroupMaxFilesToRemove bounds how many segments one retention check may delete.
func GroupMaxFilesToRemove(n int) func(*Group) {
	return func(g *Group) {
		g.maxFilesToRemove = n
	}
}

// GroupMetrics sets the metrics sink of the group.
func GroupMetrics(m *Metrics) func(*Group) {
	return func(g *Group) {
		g.metrics = m
	}
}

// Open scans the group directory to recover the segment range, opens the
// head in append mode and starts the routine which periodically checks the
// size limits. The routine stops on Close or when ctx is done.
func (g *Group) Open(ctx context.Context) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.isOpen {
		return ErrGroupAlreadyOpen
	}

	if err := os.MkdirAll(g.Dir, groupDirPerms); err != nil {
		return err
	}

	head, err := OpenAutoFile(g.headPath)
	if err != nil {
		return err
	}

	gInfo, err := g.readGroupInfo()
	if err != nil {
		_ = head.Close()
		return err
	}

	g.Head = head
	g.headBuf = bufio.NewWriterSize(head, headBufSize)
	g.minIndex = gInfo.MinIndex
	g.maxIndex = gInfo.MaxIndex
	g.isOpen = true

	g.ticker = time.NewTicker(g.groupCheckDuration)
	g.quit = make(chan struct{})
	g.routineDone = make(chan struct{})
	go g.processTicks(ctx, g.ticker.C, g.quit, g.routineDone)

	g.logger.Debug("opened group", "dir", g.Dir, "minIndex", g.minIndex, "maxIndex", g.maxIndex)
	return nil
}

// LoadSegments recovers the segment range from disk without opening the head,
// so a group which is not open for writing can still be read.
func (g *Group) LoadSegments() error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.isOpen {
		return ErrGroupAlreadyOpen
	}
	gInfo, err := g.readGroupInfo()
	if err != nil {
		return err
	}
	g.minIndex = gInfo.MinIndex
	g.maxIndex = gInfo.MaxIndex
	return nil
}

// Close stops the check routine, flushes and syncs the head and closes it.
func (g *Group) Close() error {
	g.mtx.Lock()
	if !g.isOpen {
		g.mtx.Unlock()
		return ErrGroupNotOpen
	}
	g.ticker.Stop()
	close(g.quit)
	routineDone := g.routineDone
	g.mtx.Unlock()

	// the routine may be waiting on the lock
	<-routineDone

	g.mtx.Lock()
	defer g.mtx.Unlock()

	err := g.flushLocked()
	if cerr := g.Head.Close(); err == nil {
		err = cerr
	}
	g.isOpen = false
	return err
}

// IsOpen reports whether the head is open for writing.
func (g *Group) IsOpen() bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.isOpen
}

// Clear closes the group if it is open, deletes its directory with every
// file in it and recreates the directory empty.
func (g *Group) Clear() error {
	if err := g.Close(); err != nil && !errors.Is(err, ErrGroupNotOpen) {
		g.logger.Error("failed to close group before clearing", "err", err)
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	if err := os.RemoveAll(g.Dir); err != nil {
		return fmt.Errorf("failed to remove group directory: %w", err)
	}
	if err := os.MkdirAll(g.Dir, groupDirPerms); err != nil {
		return fmt.Errorf("failed to recreate group directory: %w", err)
	}
	g.minIndex, g.maxIndex = 0, 0
	return nil
}

// HeadPath returns the path of the head file.
func (g *Group) HeadPath() string {
	return g.headPath
}

// HeadSizeLimit returns the current head size limit.
func (g *Group) HeadSizeLimit() int64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.headSizeLimit
}

// TotalSizeLimit returns total size limit of the group.
func (g *Group) TotalSizeLimit() int64 {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.totalSizeLimit
}

// MinIndex returns the oldest retained segment index.
func (g *Group) MinIndex() int {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.minIndex
}

// MaxIndex returns the index of the head.
func (g *Group) MaxIndex() int {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.maxIndex
}

// Write appends p to the head. If flush is true the buffered data is written
// and fsync'ed before returning.
func (g *Group) Write(p []byte, flush bool) (int, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen {
		return 0, ErrGroupNotOpen
	}

	n, err := g.headBuf.Write(p)
	if err != nil || !flush {
		return n, err
	}
	return n, g.flushLocked()
}

// TruncateHead flushes buffered data and cuts the head down to size bytes.
func (g *Group) TruncateHead(size int64) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen {
		return ErrGroupNotOpen
	}
	if err := g.flushLocked(); err != nil {
		return err
	}
	return g.Head.Truncate(size)
}

// Buffered returns the size of the currently buffered data.
func (g *Group) Buffered() int {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen {
		return 0
	}
	return g.headBuf.Buffered()
}

// Flush writes any buffered data to the underlying file and commits the
// current content of the file to stable storage.
func (g *Group) Flush() error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen {
		return ErrGroupNotOpen
	}
	return g.flushLocked()
}

func (g *Group) flushLocked() error {
	if err := g.headBuf.Flush(); err != nil {
		return err
	}
	return g.Head.Sync()
}

func (g *Group) processTicks(ctx context.Context, tick <-chan time.Time, quit, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-tick:
			g.checkHeadSizeLimit()
			g.checkTotalSizeLimit()
		case <-quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// NOTE: this function is called manually in tests.
func (g *Group) checkHeadSizeLimit() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen || g.headSizeLimit == 0 {
		return
	}

	if err := g.headBuf.Flush(); err != nil {
		g.logger.Error("failed to flush head before size check", "path", g.headPath, "err", err)
		return
	}
	size, err := g.Head.Size()
	if err != nil {
		g.logger.Error("unable to get the size of the head file", "path", g.headPath, "err", err)
		return
	}

	if size > g.headSizeLimit {
		if err := g.rotateFileLocked(); err != nil {
			g.logger.Error("failed to rotate head file", "path", g.headPath, "err", err)
		}
	}
}

// NOTE: this function is called manually in tests.
func (g *Group) checkTotalSizeLimit() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen || g.totalSizeLimit == 0 {
		return
	}

	gInfo, err := g.readGroupInfo()
	if err != nil {
		g.logger.Error("failed to read group info", "dir", g.Dir, "err", err)
		return
	}
	totalSize := gInfo.TotalSize
	defer func() { g.metrics.TotalSize.Set(float64(totalSize)) }()

	for i := 0; i < g.maxFilesToRemove; i++ {
		index := gInfo.MinIndex + i
		if totalSize <= g.totalSizeLimit {
			return
		}
		if index >= gInfo.MaxIndex {
			// only the head is left; it may grow without bound until rotated
			g.logger.Error("group's head may grow without bound", "head", g.headPath)
			return
		}

		pathToRemove := filePathForIndex(g.headPath, index, gInfo.MaxIndex)
		fInfo, err := os.Stat(pathToRemove)
		if err != nil {
			g.logger.Error("failed to fetch info for file", "file", pathToRemove, "err", err)
			continue
		}
		if err := os.Remove(pathToRemove); err != nil {
			g.logger.Error("failed to remove segment", "path", pathToRemove, "err", err)
			return
		}
		g.logger.Debug("removed segment", "path", pathToRemove, "size", fInfo.Size())

		totalSize -= fInfo.Size()
		g.minIndex = index + 1
		g.metrics.PrunedFiles.Add(1)
	}
}

// RotateFile causes group to close the current head and assign it
// some index. Panics if it encounters an error.
func (g *Group) RotateFile() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if !g.isOpen {
		panic(ErrGroupNotOpen)
	}
	if err := g.rotateFileLocked(); err != nil {
		panic(err)
	}
}

func (g *Group) rotateFileLocked() error {
	if err := g.flushLocked(); err != nil {
		return err
	}
	if err := g.Head.Close(); err != nil {
		return err
	}

	indexPath := filePathForIndex(g.headPath, g.maxIndex, g.maxIndex+1)
	if err := os.Rename(g.headPath, indexPath); err != nil {
		return err
	}

	g.maxIndex++
	// the next write reopens a fresh head at headPath
	g.headBuf.Reset(g.Head)
	g.metrics.Rotations.Add(1)
	g.logger.Info("rotated head file", "segment", indexPath, "maxIndex", g.maxIndex)
	return nil
}

// NewReader returns a new group reader positioned at the beginning of the
// segment with the given index. The returned reader must be closed.
func (g *Group) NewReader(index int) (*GroupReader, error) {
	r := newGroupReader(g)
	if err := r.openFile(index); errors.Is(err, io.EOF) {
		// nothing to read yet; Read retries the same index
		r.curIndex = index
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

// NewReaderFromStart returns a reader positioned at the oldest retained segment.
func (g *Group) NewReaderFromStart() (*GroupReader, error) {
	return g.NewReader(g.MinIndex())
}

// GroupInfo holds information about the group.
type GroupInfo struct {
	MinIndex  int   // index of the first file in the group, including head
	MaxIndex  int   // index of the last file in the group, including head
	TotalSize int64 // total size of the group
	HeadSize  int64 // size of the head
}

// ReadGroupInfo returns info for the group on disk, excluding buffered data.
func (g *Group) ReadGroupInfo() (GroupInfo, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.readGroupInfo()
}

// Index includes the head.
// CONTRACT: caller should have called g.mtx.Lock
func (g *Group) readGroupInfo() (GroupInfo, error) {
	headBase := filepath.Base(g.headPath)
	var minIndex, maxIndex = -1, -1
	var totalSize, headSize int64

	dir, err := os.Open(g.Dir)
	if err != nil {
		return GroupInfo{}, err
	}
	defer dir.Close()

	fiz, err := dir.Readdir(0)
	if err != nil {
		return GroupInfo{}, err
	}

	for _, fileInfo := range fiz {
		if fileInfo.Name() == headBase {
			fileSize := fileInfo.Size()
			totalSize += fileSize
			headSize = fileSize
			continue
		} else if strings.HasPrefix(fileInfo.Name(), headBase) {
			fileSize := fileInfo.Size()
			submatch := indexedFilePattern.FindSubmatch([]byte(fileInfo.Name()))
			if len(submatch) != 0 && string(submatch[1]) == headBase {
				fileIndex, err := strconv.Atoi(string(submatch[2]))
				if err != nil {
					return GroupInfo{}, err
				}
				if maxIndex < fileIndex {
					maxIndex = fileIndex
				}
				if minIndex == -1 || fileIndex < minIndex {
					minIndex = fileIndex
				}
				totalSize += fileSize
			}
		}
	}

	// Now account for the head.
	if minIndex == -1 {
		// If there were no numbered files,
		// then the head is index 0.
		minIndex, maxIndex = 0, 0
	} else {
		// Otherwise, the head file is 1 greater
		maxIndex++
	}
	return GroupInfo{minIndex, maxIndex, totalSize, headSize}, nil
}

var indexedFilePattern = regexp.MustCompile(`^(.+)\.([0-9]{3,})$`)

func filePathForIndex(headPath string, index int, maxIndex int) string {
	if index == maxIndex {
		return headPath
	}
	return fmt.Sprintf("%v.%03d", headPath, index)
}

//--------------------------------------------------------------------------------

// GroupReader provides an interface for reading from a Group across segment
// boundaries.
type GroupReader struct {
	*Group

	mtx       sync.Mutex
	curIndex  int
	curFile   *os.File
	curReader *bufio.Reader
}

func newGroupReader(group *Group) *GroupReader {
	return &GroupReader{
		Group:    group,
		curIndex: 0,
	}
}

// Close closes the GroupReader by closing the cursor file.
func (gr *GroupReader) Close() error {
	gr.mtx.Lock()
	defer gr.mtx.Unlock()

	if gr.curReader != nil {
		err := gr.curFile.Close()
		gr.curIndex = 0
		gr.curReader = nil
		gr.curFile = nil
		return err
	}
	return nil
}

// Read implements io.Reader, reading bytes from the current segment and
// moving on to the next one when it is exhausted. It returns io.EOF once the
// head has no more data; fewer bytes than len(p) together with io.EOF means
// the group holds less data than requested, which io.ReadFull reports as
// io.ErrUnexpectedEOF.
func (gr *GroupReader) Read(p []byte) (n int, err error) {
	lenP := len(p)
	if lenP == 0 {
		return 0, errors.New("given empty slice")
	}

	gr.mtx.Lock()
	defer gr.mtx.Unlock()

	// Open file if not open yet
	if gr.curReader == nil {
		if err = gr.openFile(gr.curIndex); err != nil {
			return 0, err
		}
	}

	// Iterate over files until enough bytes are read
	var nn int
	for {
		nn, err = gr.curReader.Read(p[n:])
		n += nn
		switch {
		case err == io.EOF:
			if n >= lenP {
				return n, nil
			}
			// Open the next file
			if err1 := gr.openFile(gr.curIndex + 1); err1 != nil {
				return n, err1
			}
		case err != nil:
			return n, err
		case nn == 0: // empty file
			return n, err
		case n >= lenP:
			return n, nil
		}
	}
}

// IF index > gr.Group.maxIndex, returns io.EOF
// CONTRACT: caller should hold gr.mtx
func (gr *GroupReader) openFile(index int) error {
	// Lock on Group to ensure that head doesn't move in the meanwhile.
	gr.Group.mtx.Lock()
	defer gr.Group.mtx.Unlock()

	if index > gr.Group.maxIndex {
		return io.EOF
	}
	if index < gr.Group.minIndex {
		return fmt.Errorf("segment %d was pruned, oldest retained is %d", index, gr.Group.minIndex)
	}

	curFilePath := filePathForIndex(gr.headPath, index, gr.Group.maxIndex)
	curFile, err := os.OpenFile(curFilePath, os.O_RDONLY, autoFilePerms)
	if os.IsNotExist(err) && index == gr.Group.maxIndex {
		// head not recreated since the last rotation
		return io.EOF
	} else if err != nil {
		return err
	}
	curReader := bufio.NewReader(curFile)

	// Update gr.cur*
	if gr.curFile != nil {
		if err := gr.curFile.Close(); err != nil {
			gr.Group.logger.Error("failed to close group file", "index", gr.curIndex, "err", err)
		}
	}
	gr.curIndex = index
	gr.curFile = curFile
	gr.curReader = curReader
	return nil
}

// CurIndex returns cursor's file index.
func (gr *GroupReader) CurIndex() int {
	gr.mtx.Lock()
	defer gr.mtx.Unlock()
	return gr.curIndex
}

package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	pool "github.com/libp2p/go-buffer-pool"

	"github.com/reinetwork/reimint/libs/autofile"
	"github.com/reinetwork/reimint/libs/checksum"
	"github.com/reinetwork/reimint/libs/log"
	"github.com/reinetwork/reimint/libs/service"
)

const (
	// MaxMsgSizeBytes is the maximum size of a WAL record payload.
	MaxMsgSizeBytes = 1024 * 1024 // 1MB

	// checksum and length prefixes of every record
	walHeaderSize = checksum.Size + 4

	// how often the WAL should be sync'd during period sync'ing
	walDefaultFlushInterval = 2 * time.Second
)

//--------------------------------------------------------
// Simple write-ahead logger

// WAL is an interface for any write-ahead logger.
type WAL interface {
	Write(WALMessage) error
	WriteSync(WALMessage) error
	FlushAndSync() error

	SearchForEndHeight(height uint64) (rd *WALReader, found bool, err error)

	// service methods
	Start(context.Context) error
	Stop() error
	Wait()
}

// BaseWAL is a write-ahead logger for deterministic consensus replay.
//
// Write ahead logger writes msgs to disk before they are processed. Can be
// used for crash-recovery and deterministic replay. Records are framed as
// [crc32][length][rlp([code, msg])] on top of an autofile.Group.
//
// Records are buffered and only reach the disk on WriteSync, FlushAndSync or
// the periodic flush. Write errors are logged and dropped: the log is a
// recovery aid and must never stop consensus from making progress.
type BaseWAL struct {
	service.BaseService
	logger log.Logger

	group   *autofile.Group
	metrics *Metrics

	flushTicker   *time.Ticker
	flushInterval time.Duration
	flushQuit     chan struct{}
	flushDone     chan struct{}
}

var _ WAL = &BaseWAL{}

// NewWAL returns a new write-ahead logger based on `baseWAL`, which implements
// WAL. It's flushed and synced to disk every 2s and once when stopped.
func NewWAL(logger log.Logger, walFile string, groupOptions ...func(*autofile.Group)) (*BaseWAL, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	group, err := autofile.OpenGroup(logger, walFile, groupOptions...)
	if err != nil {
		return nil, err
	}
	wal := &BaseWAL{
		logger:        logger,
		group:         group,
		metrics:       NopMetrics(),
		flushInterval: walDefaultFlushInterval,
	}
	wal.BaseService = *service.NewBaseService(logger, "baseWAL", wal)
	return wal, nil
}

// SetFlushInterval allows us to override the periodic flush interval for the WAL.
func (wal *BaseWAL) SetFlushInterval(i time.Duration) {
	wal.flushInterval = i
}

// SetMetrics replaces the metrics. It must be called before Start.
func (wal *BaseWAL) SetMetrics(m *Metrics) {
	wal.metrics = m
}

// Group returns the underlying file group.
func (wal *BaseWAL) Group() *autofile.Group {
	return wal.group
}

// OnStart opens the file group and checks every record in it. A record cut
// short at the end of the head is truncated away. A group which cannot be
// opened or holds a damaged record is wiped and created anew, losing the
// previous records. An empty log starts with EndHeightMessage{0}.
func (wal *BaseWAL) OnStart(ctx context.Context) error {
	if err := wal.group.Open(ctx); err != nil {
		wal.logger.Error("failed to open WAL, clearing it", "dir", filepath.Dir(wal.group.HeadPath()), "err", err)
		if err := wal.clear(ctx); err != nil {
			return err
		}
	}

	if err := wal.repair(); IsDataCorruptionError(err) {
		wal.logger.Error("WAL is corrupted, clearing it", "dir", filepath.Dir(wal.group.HeadPath()), "err", err)
		if err := wal.clear(ctx); err != nil {
			return err
		}
	} else if err != nil {
		_ = wal.group.Close()
		return fmt.Errorf("failed to check WAL: %w", err)
	}

	info, err := wal.group.ReadGroupInfo()
	if err != nil {
		_ = wal.group.Close()
		return err
	} else if info.TotalSize == 0 {
		if err := wal.WriteSync(&EndHeightMessage{Height: 0}); err != nil {
			_ = wal.group.Close()
			return err
		}
	}

	wal.flushTicker = time.NewTicker(wal.flushInterval)
	wal.flushQuit = make(chan struct{})
	wal.flushDone = make(chan struct{})
	go wal.processFlushTicks(ctx)
	return nil
}

func (wal *BaseWAL) clear(ctx context.Context) error {
	if err := wal.group.Clear(); err != nil {
		return fmt.Errorf("failed to clear WAL: %w", err)
	}
	if err := wal.group.Open(ctx); err != nil {
		return fmt.Errorf("failed to reopen WAL: %w", err)
	}
	return nil
}

// repair decodes the group from the oldest segment on. A trailing record the
// head holds only part of, left by a crash in the middle of a write, is
// truncated so that new records follow the last complete one. A record cut
// short before the head is reported as a DataCorruptionError like any other
// damage.
//
// CONTRACT: the group is open and nothing is buffered.
func (wal *BaseWAL) repair() error {
	info, err := wal.group.ReadGroupInfo()
	if err != nil {
		return err
	}

	gr, err := wal.group.NewReaderFromStart()
	if err != nil {
		return err
	}
	defer gr.Close()

	cr := &countingReader{r: gr}
	dec := NewWALDecoder(cr)
	var complete int64
	for {
		if _, err := dec.Decode(); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		complete = cr.n
	}
	if complete == info.TotalSize {
		return nil
	}

	segments := info.TotalSize - info.HeadSize
	if complete < segments {
		return DataCorruptionError{fmt.Errorf("record at offset %d is cut short before the head", complete)}
	}
	wal.logger.Error("truncating incomplete record at the end of WAL",
		"head", wal.group.HeadPath(),
		"size", info.HeadSize,
		"truncated_size", complete-segments)
	return wal.group.TruncateHead(complete - segments)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func (wal *BaseWAL) processFlushTicks(ctx context.Context) {
	defer close(wal.flushDone)

	for {
		select {
		case <-wal.flushTicker.C:
			if err := wal.FlushAndSync(); err != nil {
				wal.metrics.WALWriteErrors.Add(1)
				wal.logger.Error("periodic WAL flush failed", "err", err)
			}
		case <-wal.flushQuit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// FlushAndSync flushes and fsync's the underlying group's data to disk.
// See auto#FlushAndSync
func (wal *BaseWAL) FlushAndSync() error {
	return wal.group.Flush()
}

// OnStop stops the periodic flush, flushes what is buffered and closes the
// group. Errors are only logged.
func (wal *BaseWAL) OnStop() {
	wal.flushTicker.Stop()
	close(wal.flushQuit)
	<-wal.flushDone

	if err := wal.FlushAndSync(); err != nil {
		wal.logger.Error("error on flush data to disk", "error", err)
	}
	if err := wal.group.Close(); err != nil {
		wal.logger.Error("error trying to close wal", "error", err)
	}
}

// Write is called in newStep and for each receive on the
// peerMsgQueue and the timeoutTicker.
// NOTE: does not call fsync()
func (wal *BaseWAL) Write(msg WALMessage) error {
	return wal.write(msg, false)
}

// WriteSync is called when we receive a msg from ourselves
// so that we write to disk before sending signed messages.
// NOTE: calls fsync()
func (wal *BaseWAL) WriteSync(msg WALMessage) error {
	return wal.write(msg, true)
}

// write returns an error only when msg cannot be encoded. Failures of the
// underlying group are logged and counted.
func (wal *BaseWAL) write(msg WALMessage, flush bool) error {
	if wal == nil {
		return nil
	}

	frame, err := encodeFrame(msg)
	if err != nil {
		return err
	}
	defer pool.Put(frame)

	n, err := wal.group.Write(frame, flush)
	if err != nil {
		wal.metrics.WALWriteErrors.Add(1)
		wal.logger.Error("error writing msg to consensus wal; WAL will be unusable for replay",
			"err", err, "msg", msg, "flush", flush)
		return nil
	}
	wal.metrics.WALRecordsWritten.Add(1)
	wal.metrics.WALBytesWritten.Add(float64(n))
	return nil
}

// SearchForEndHeight searches for the EndHeightMessage with the given height
// and returns a WALReader positioned right after it. If the message is not
// found, found is false and the reader is nil. The returned reader must be
// closed.
//
// CONTRACT: caller must close the reader.
func (wal *BaseWAL) SearchForEndHeight(height uint64) (rd *WALReader, found bool, err error) {
	rd, err = wal.NewReader()
	if err != nil {
		return nil, false, err
	}

	for {
		msg, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if IsDataCorruptionError(err) {
			wal.logger.Error("corrupted entry", "err", err)
			_ = rd.Close()
			return nil, false, err
		} else if err != nil {
			_ = rd.Close()
			return nil, false, err
		}

		if m, ok := msg.(*EndHeightMessage); ok && m.Height == height {
			wal.logger.Info("found", "height", height)
			return rd, true, nil
		}
	}
	_ = rd.Close()
	return nil, false, nil
}

// NewReader flushes buffered records and returns a reader positioned at the
// oldest retained record.
//
// CONTRACT: caller must close the reader.
func (wal *BaseWAL) NewReader() (*WALReader, error) {
	if wal.group.IsOpen() {
		if err := wal.FlushAndSync(); err != nil {
			return nil, err
		}
	}
	gr, err := wal.group.NewReaderFromStart()
	if err != nil {
		return nil, err
	}
	return &WALReader{dec: NewWALDecoder(gr), closer: gr}, nil
}

//--------------------------------------------------------

// WALReader reads records sequentially from a WAL.
type WALReader struct {
	dec    *WALDecoder
	closer io.Closer
}

// Read returns the next record. It returns io.EOF when there are no more
// complete records and a DataCorruptionError for a damaged record.
func (rd *WALReader) Read() (WALMessage, error) {
	return rd.dec.Decode()
}

// Close releases the underlying files.
func (rd *WALReader) Close() error {
	return rd.closer.Close()
}

//--------------------------------------------------------

// A WALEncoder writes custom-encoded WAL messages to an output stream.
//
// Format: 4 bytes CRC sum + 4 bytes length + arbitrary-length value
type WALEncoder struct {
	wr io.Writer
}

// NewWALEncoder returns a new encoder that writes to wr.
func NewWALEncoder(wr io.Writer) *WALEncoder {
	return &WALEncoder{wr}
}

// Encode writes the custom encoding of v to the stream. It returns an error if
// the encoded size of v is greater than 1MB. Any error encountered
// during the write is also returned.
func (enc *WALEncoder) Encode(v WALMessage) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}
	defer pool.Put(frame)

	_, err = enc.wr.Write(frame)
	return err
}

// encodeFrame returns the framed record of v in a buffer taken from the
// pool; callers must return it with pool.Put.
func encodeFrame(v WALMessage) ([]byte, error) {
	payload, err := walRegistry.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAL message: %w", err)
	}

	length := len(payload)
	if length > MaxMsgSizeBytes {
		return nil, fmt.Errorf("msg is too big: %d bytes, max: %d bytes", length, MaxMsgSizeBytes)
	}

	frame := pool.Get(walHeaderSize + length)
	binary.BigEndian.PutUint32(frame[0:4], checksum.Sum(payload))
	binary.BigEndian.PutUint32(frame[4:8], uint32(length))
	copy(frame[walHeaderSize:], payload)
	return frame, nil
}

//--------------------------------------------------------

// IsDataCorruptionError returns true if data has been corrupted inside WAL.
func IsDataCorruptionError(err error) bool {
	var dce DataCorruptionError
	return errors.As(err, &dce)
}

// DataCorruptionError is an error that occures if data on disk was corrupted.
type DataCorruptionError struct {
	cause error
}

func (e DataCorruptionError) Error() string {
	return fmt.Sprintf("DataCorruptionError[%v]", e.cause)
}

// Cause returns the underlying reason of the corruption.
func (e DataCorruptionError) Cause() error {
	return e.cause
}

func (e DataCorruptionError) Unwrap() error {
	return e.cause
}

// A WALDecoder reads and decodes custom-encoded WAL messages from an input
// stream. See WALEncoder for the format used.
//
// It will also compare the checksums and make sure data size is equal to the
// length from the header. If that is not the case, error will be returned.
type WALDecoder struct {
	rd io.Reader
}

// NewWALDecoder returns a new decoder that reads from rd.
func NewWALDecoder(rd io.Reader) *WALDecoder {
	return &WALDecoder{rd}
}

// Decode reads the next custom-encoded value from its reader and returns it.
// A stream which ends inside a record, as left behind by a crash in the
// middle of a write, is reported as io.EOF.
func (dec *WALDecoder) Decode() (WALMessage, error) {
	b := make([]byte, 4)

	if _, err := io.ReadFull(dec.rd, b); err != nil {
		return nil, readErr("checksum", err)
	}
	crc := binary.BigEndian.Uint32(b)

	b = make([]byte, 4)
	if _, err := io.ReadFull(dec.rd, b); err != nil {
		return nil, readErr("length", err)
	}
	length := binary.BigEndian.Uint32(b)

	if length > MaxMsgSizeBytes {
		return nil, DataCorruptionError{fmt.Errorf(
			"length %d exceeded maximum possible value of %d bytes",
			length,
			MaxMsgSizeBytes)}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(dec.rd, data); err != nil {
		return nil, readErr("data", err)
	}

	if !checksum.Verify(data, crc) {
		actual := checksum.Sum(data)
		return nil, DataCorruptionError{fmt.Errorf("checksums do not match: read: %v, actual: %v", crc, actual)}
	}

	msg, err := walRegistry.Deserialize(data)
	if err != nil {
		return nil, DataCorruptionError{fmt.Errorf("failed to decode data: %w", err)}
	}
	return msg, nil
}

func readErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

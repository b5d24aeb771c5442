package consensus

import (
	"errors"
	"fmt"
	"time"

	"github.com/reinetwork/reimint/libs/registry"
)

// WALMessage is a record of the write-ahead log.
type WALMessage = registry.Message

// Registry codes of the WAL records. Changing them breaks replay of existing
// logs.
const (
	EndHeightCode uint64 = iota
	MsgInfoCode
	TimeoutInfoCode
	EventDataRoundStateCode
)

// NewWALRegistry returns the registry of every WAL record type.
func NewWALRegistry() *registry.Registry {
	r := registry.New("wal")
	r.MustRegister(EndHeightCode, func() registry.Message { return &EndHeightMessage{} })
	r.MustRegister(MsgInfoCode, func() registry.Message { return &MsgInfo{} })
	r.MustRegister(TimeoutInfoCode, func() registry.Message { return &TimeoutInfo{} })
	r.MustRegister(EventDataRoundStateCode, func() registry.Message { return &EventDataRoundState{} })
	return r
}

var walRegistry = NewWALRegistry()

// EndHeightMessage marks the end of the given height inside WAL.
// reimint-debug wal dump prints it as ENDHEIGHT.
type EndHeightMessage struct {
	Height uint64
}

// ValidateBasic performs basic validation.
func (m *EndHeightMessage) ValidateBasic() error { return nil }

func (m *EndHeightMessage) String() string {
	return fmt.Sprintf("ENDHEIGHT: %d", m.Height)
}

// MsgInfo is a peer consensus message together with the peer it came from.
// An empty PeerID means the message was generated locally.
type MsgInfo struct {
	Msg    []byte // serialized consensus message
	PeerID string
}

// NewMsgInfo serializes msg with the consensus message registry.
func NewMsgInfo(msg Message, peerID string) (*MsgInfo, error) {
	bz, err := EncodeMsg(msg)
	if err != nil {
		return nil, err
	}
	return &MsgInfo{Msg: bz, PeerID: peerID}, nil
}

// Message decodes the wrapped consensus message.
func (m *MsgInfo) Message() (Message, error) {
	return DecodeMsg(m.Msg)
}

// ValidateBasic performs basic validation.
func (m *MsgInfo) ValidateBasic() error {
	if len(m.Msg) == 0 {
		return errors.New("empty Msg")
	}
	return nil
}

func (m *MsgInfo) String() string {
	return fmt.Sprintf("MsgInfo{%X, peer: %q}", m.Msg, m.PeerID)
}

// TimeoutInfo is a scheduled timeout. Duration is in milliseconds.
type TimeoutInfo struct {
	Duration uint64
	Height   uint64
	Round    uint32
	Step     RoundStepType
}

// NewTimeoutInfo returns a TimeoutInfo for duration d.
func NewTimeoutInfo(d time.Duration, height uint64, round uint32, step RoundStepType) *TimeoutInfo {
	return &TimeoutInfo{
		Duration: uint64(d / time.Millisecond),
		Height:   height,
		Round:    round,
		Step:     step,
	}
}

// Timeout returns the duration of the timeout.
func (ti *TimeoutInfo) Timeout() time.Duration {
	return time.Duration(ti.Duration) * time.Millisecond
}

// ValidateBasic performs basic validation.
func (ti *TimeoutInfo) ValidateBasic() error {
	if !ti.Step.IsValid() {
		return errors.New("invalid Step")
	}
	return nil
}

func (ti *TimeoutInfo) String() string {
	return fmt.Sprintf("%v ; %d/%d %v", ti.Timeout(), ti.Height, ti.Round, ti.Step)
}

// EventDataRoundState records a round step transition of the local state
// machine.
type EventDataRoundState struct {
	Height uint64
	Round  uint32
	Step   RoundStepType
}

// ValidateBasic performs basic validation.
func (e *EventDataRoundState) ValidateBasic() error {
	if !e.Step.IsValid() {
		return errors.New("invalid Step")
	}
	return nil
}

func (e *EventDataRoundState) String() string {
	return fmt.Sprintf("%d/%d/%v", e.Height, e.Round, e.Step)
}

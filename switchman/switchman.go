// Package switchman implements the distributed phase machine: master state
// lives on rank 0, slave state lives on every rank. Grounded directly on
// RayPlatform's SwitchMan.h/.cpp vocabulary (openMasterMode,
// closeSlaveModeLocally, sendToAll, the master_mode/next_master_mode
// "program" map, the tag-to-slave-mode table) and, for the concurrency-safe
// state-holder idiom (RWMutex-guarded fields plus an atomic counter), on
// aistore's reb/status.go (reb.mu, reb.stages.stage.Load()).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package switchman

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/DmitrySigaev/RayPlatform/cmn/nlog"
	"github.com/DmitrySigaev/RayPlatform/message"
)

type (
	MasterMode int32
	SlaveMode  int32
)

const (
	NoMasterMode MasterMode = -1
	NoSlaveMode  SlaveMode  = -1
)

// SwitchMan holds the per-rank phase state plus, on rank 0 only, the
// phase program (master_mode -> next_master_mode and master_mode ->
// kickoff tag). Exactly one active master mode and one active slave mode
// at any time (spec §4.3).
type SwitchMan struct {
	self message.Rank
	size int

	mu         sync.RWMutex
	slaveMode  SlaveMode
	masterMode MasterMode

	acked atomic.Int32 // ranks that have called CloseSlaveModeLocally this phase

	nextMasterMode map[MasterMode]MasterMode
	masterKickoff  map[MasterMode]message.Tag
	tagToSlaveMode map[message.Tag]SlaveMode

	// CompletionTag is the dedicated runtime tag a slave uses to signal
	// rank 0 that it finished the current phase.
	CompletionTag message.Tag
}

func New(self message.Rank, size int, completionTag message.Tag) *SwitchMan {
	return &SwitchMan{
		self:           self,
		size:           size,
		slaveMode:      NoSlaveMode,
		masterMode:     NoMasterMode,
		nextMasterMode: make(map[MasterMode]MasterMode),
		masterKickoff:  make(map[MasterMode]message.Tag),
		tagToSlaveMode: make(map[message.Tag]SlaveMode),
		CompletionTag:  completionTag,
	}
}

// AddMasterSwitch registers "master advances to next, via kickoff" —
// SwitchMan::addNextMasterMode plus addMasterSwitch folded into one call
// since this runtime always pairs them.
func (sm *SwitchMan) AddMasterSwitch(master, next MasterMode, kickoff message.Tag) {
	sm.mu.Lock()
	sm.nextMasterMode[master] = next
	sm.masterKickoff[master] = kickoff
	sm.mu.Unlock()
}

// AddSlaveSwitch registers "receiving tag switches this rank into
// slaveMode" — SwitchMan::addSlaveSwitch.
func (sm *SwitchMan) AddSlaveSwitch(tag message.Tag, slave SlaveMode) {
	sm.mu.Lock()
	sm.tagToSlaveMode[tag] = slave
	sm.mu.Unlock()
}

func (sm *SwitchMan) SetMasterMode(m MasterMode) {
	sm.mu.Lock()
	sm.masterMode = m
	sm.mu.Unlock()
}

func (sm *SwitchMan) MasterMode() MasterMode {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.masterMode
}

func (sm *SwitchMan) SlaveMode() SlaveMode {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.slaveMode
}

func (sm *SwitchMan) setSlaveMode(s SlaveMode) {
	sm.mu.Lock()
	sm.slaveMode = s
	sm.mu.Unlock()
}

// OnIncomingTag is called by the engine's dispatch step for every inbound
// tag; if the tag is registered as a phase trigger, it switches this
// rank's slave mode (spec §4.1 step 4).
func (sm *SwitchMan) OnIncomingTag(tag message.Tag) {
	sm.mu.RLock()
	next, ok := sm.tagToSlaveMode[tag]
	sm.mu.RUnlock()
	if ok {
		sm.setSlaveMode(next)
		sm.acked.Store(0)
		nlog.Infof("switchman: rank %d entering slave mode %d on tag %d", sm.self, next, tag)
	}
}

// OpenMasterMode: rank 0, for its current master mode, looks up the
// kickoff tag and broadcasts an empty message with that tag to every rank
// including itself (spec §4.3, SwitchMan::openMasterMode).
func (sm *SwitchMan) OpenMasterMode() []*message.Envelope {
	if sm.self != message.MasterRank {
		return nil
	}
	sm.mu.RLock()
	mode := sm.masterMode
	tag, ok := sm.masterKickoff[mode]
	sm.mu.RUnlock()
	if !ok {
		return nil
	}
	return sm.SendToAll(tag, nil)
}

// SendToAll builds one empty (or payload-carrying) message per rank,
// including self — SwitchMan::sendToAll / sendMessageToAll.
func (sm *SwitchMan) SendToAll(tag message.Tag, payload []byte) []*message.Envelope {
	out := make([]*message.Envelope, 0, sm.size)
	for r := 0; r < sm.size; r++ {
		out = append(out, message.New(sm.self, message.Rank(r), tag, payload))
	}
	return out
}

// CloseSlaveModeLocally is called once a slave mode finishes its local
// work: it produces the completion-signal message addressed back to rank
// 0 (SwitchMan::closeSlaveModeLocally).
func (sm *SwitchMan) CloseSlaveModeLocally() *message.Envelope {
	sm.setSlaveMode(NoSlaveMode)
	return message.New(sm.self, message.MasterRank, sm.CompletionTag, nil)
}

// OnCompletionSignal is invoked (rank 0 only) each time a completion
// message arrives; once every rank has acked the current phase, the
// master mode advances and OpenMasterMode is re-armed for the new mode.
// Returns the broadcast for the new phase, or nil if the phase hasn't
// finished yet.
func (sm *SwitchMan) OnCompletionSignal() []*message.Envelope {
	if sm.self != message.MasterRank {
		return nil
	}
	n := sm.acked.Add(1)
	if int(n) < sm.size {
		return nil
	}
	sm.acked.Store(0)

	sm.mu.Lock()
	cur := sm.masterMode
	next, ok := sm.nextMasterMode[cur]
	if ok {
		sm.masterMode = next
	}
	sm.mu.Unlock()

	if !ok {
		return nil // no further phase programmed: the workflow is done
	}
	nlog.Infof("switchman: master advancing %d -> %d", cur, next)
	return sm.OpenMasterMode()
}

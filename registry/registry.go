// Package registry implements the plugin/dispatch registry: three disjoint
// handler tables (tag, master mode, slave mode), random plugin handles,
// and symbol resolution. Grounded on RayPlatform's ComputeCore
// handle-allocation API (allocatePluginHandle, beginPluginRegistration,
// allocateSlaveModeHandle, setMessageTagSymbol, ...) for the shape of the
// operations, and on aistore's xact/xreg (a registry of handles with
// ownership validation and a renew/find lifecycle) for the idiom: a
// mutex-guarded map plus small validation helpers rather than a God
// object.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package registry

import (
	"encoding/binary"
	"sync"

	"github.com/gofrs/uuid"

	"github.com/DmitrySigaev/RayPlatform/cmn/cos"
	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/switchman"
)

type PluginHandle uint64

// TagHandler is invoked by the engine for a dispatched application-tagged
// message; ModeHandler drives one tick of a master or slave mode.
type (
	TagHandler  func(env *message.Envelope) []*message.Envelope
	ModeHandler func() []*message.Envelope
)

type pluginRecord struct {
	name   string
	author string
	license string

	tags        map[message.Tag]struct{}
	slaveModes  map[switchman.SlaveMode]struct{}
	masterModes map[switchman.MasterMode]struct{}

	registering bool // true between Begin/EndRegistration
}

// Registry owns the three dispatch tables plus the plugin records needed
// to validate every Bind* call's ownership. Mutated only during the
// registration phase before the engine's run loop starts; read-only
// thereafter (spec §5: "Registry: mutated only during the registration
// phase ... read-only during the loop").
type Registry struct {
	mu sync.Mutex

	plugins map[PluginHandle]*pluginRecord

	tagHandlers    map[message.Tag]boundTag
	masterHandlers map[switchman.MasterMode]boundMaster
	slaveHandlers  map[switchman.SlaveMode]boundSlave

	symbols map[string]any // symbol -> message.Tag | switchman.MasterMode | switchman.SlaveMode

	nextTag    message.Tag
	nextMaster switchman.MasterMode
	nextSlave  switchman.SlaveMode
}

type boundTag struct {
	owner PluginHandle
	fn    TagHandler
}
type boundMaster struct {
	owner PluginHandle
	fn    ModeHandler
}
type boundSlave struct {
	owner PluginHandle
	fn    ModeHandler
}

func New() *Registry {
	return &Registry{
		plugins:        make(map[PluginHandle]*pluginRecord),
		tagHandlers:    make(map[message.Tag]boundTag),
		masterHandlers: make(map[switchman.MasterMode]boundMaster),
		slaveHandlers:  make(map[switchman.SlaveMode]boundSlave),
		symbols:        make(map[string]any),
	}
}

//
// plugin lifecycle
//

// AllocatePluginHandle draws a random 64-bit id, retrying on collision,
// using github.com/gofrs/uuid as the entropy source (the same dependency
// gocryptotrader's dispatch subsystem already pulls in for subscriber
// ids) rather than a hand-rolled PRNG.
func (r *Registry) AllocatePluginHandle() PluginHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id, err := uuid.NewV4()
		var h PluginHandle
		if err != nil {
			h = PluginHandle(cos.Rand64())
		} else {
			h = PluginHandle(binary.LittleEndian.Uint64(id.Bytes()[:8]))
		}
		if _, taken := r.plugins[h]; !taken {
			r.plugins[h] = &pluginRecord{
				tags:        make(map[message.Tag]struct{}),
				slaveModes:  make(map[switchman.SlaveMode]struct{}),
				masterModes: make(map[switchman.MasterMode]struct{}),
			}
			return h
		}
	}
}

func (r *Registry) BeginRegistration(h PluginHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	rec.registering = true
	return nil
}

func (r *Registry) EndRegistration(h PluginHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	rec.registering = false
	return nil
}

func (r *Registry) SetPluginName(h PluginHandle, name, author, license string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	rec.name, rec.author, rec.license = name, author, license
	return nil
}

//
// handle allocation — sequential per category, per ComputeCore's
// allocate{SlaveMode,MasterMode,MessageTag}Handle
//

func (r *Registry) AllocateTagHandle(h PluginHandle) (message.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return 0, cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	if r.nextTag >= message.RoutingTagBase {
		return 0, cos.Fatalf("registry: application tag space exhausted")
	}
	t := r.nextTag
	r.nextTag++
	rec.tags[t] = struct{}{}
	return t, nil
}

func (r *Registry) AllocateSlaveModeHandle(h PluginHandle) (switchman.SlaveMode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return 0, cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	m := r.nextSlave
	r.nextSlave++
	rec.slaveModes[m] = struct{}{}
	return m, nil
}

func (r *Registry) AllocateMasterModeHandle(h PluginHandle) (switchman.MasterMode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return 0, cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	m := r.nextMaster
	r.nextMaster++
	rec.masterModes[m] = struct{}{}
	return m, nil
}

//
// binding, with the four validations the spec requires (§4.4):
// (a) handle range/ownership; (b) plugin owns the tag/mode; (c) the
// handle was previously allocated by that plugin; (d) symbol uniqueness.
//

func (r *Registry) BindTagHandler(h PluginHandle, tag message.Tag, symbol string, fn TagHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	if _, owns := rec.tags[tag]; !owns {
		return cos.Fatalf("registry: plugin %d does not own tag %d", h, tag)
	}
	if _, exists := r.tagHandlers[tag]; exists {
		return cos.Fatalf("registry: tag %d already has a handler", tag)
	}
	if symbol != "" {
		if err := r.bindSymbolLocked(symbol, tag); err != nil {
			return err
		}
	}
	r.tagHandlers[tag] = boundTag{owner: h, fn: fn}
	return nil
}

func (r *Registry) BindMasterModeHandler(h PluginHandle, mode switchman.MasterMode, symbol string, fn ModeHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	if _, owns := rec.masterModes[mode]; !owns {
		return cos.Fatalf("registry: plugin %d does not own master mode %d", h, mode)
	}
	if symbol != "" {
		if err := r.bindSymbolLocked(symbol, mode); err != nil {
			return err
		}
	}
	r.masterHandlers[mode] = boundMaster{owner: h, fn: fn}
	return nil
}

func (r *Registry) BindSlaveModeHandler(h PluginHandle, mode switchman.SlaveMode, symbol string, fn ModeHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[h]
	if !ok {
		return cos.Fatalf("registry: unknown plugin handle %d", h)
	}
	if _, owns := rec.slaveModes[mode]; !owns {
		return cos.Fatalf("registry: plugin %d does not own slave mode %d", h, mode)
	}
	if symbol != "" {
		if err := r.bindSymbolLocked(symbol, mode); err != nil {
			return err
		}
	}
	r.slaveHandlers[mode] = boundSlave{owner: h, fn: fn}
	return nil
}

func (r *Registry) bindSymbolLocked(symbol string, handle any) error {
	if _, exists := r.symbols[symbol]; exists {
		return cos.Fatalf("registry: symbol %q already bound", symbol)
	}
	r.symbols[symbol] = handle
	return nil
}

// ResolveSymbol looks up a handle a cooperating plugin registered under a
// name rather than a raw integer. An unresolved symbol at boot is fatal
// per spec §4.4.
func (r *Registry) ResolveSymbol(symbol string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.symbols[symbol]
	if !ok {
		return nil, cos.Fatalf("registry: unresolved symbol %q", symbol)
	}
	return h, nil
}

//
// dispatch — read-only once the engine starts running
//

func (r *Registry) TagHandlerFor(tag message.Tag) (TagHandler, bool) {
	b, ok := r.tagHandlers[tag]
	if !ok {
		return nil, false
	}
	return b.fn, true
}

func (r *Registry) MasterHandlerFor(mode switchman.MasterMode) (ModeHandler, bool) {
	b, ok := r.masterHandlers[mode]
	if !ok {
		return nil, false
	}
	return b.fn, true
}

func (r *Registry) SlaveHandlerFor(mode switchman.SlaveMode) (ModeHandler, bool) {
	b, ok := r.slaveHandlers[mode]
	if !ok {
		return nil, false
	}
	return b.fn, true
}

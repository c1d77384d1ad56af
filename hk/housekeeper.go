// Package hk provides a mechanism for registering cleanup/periodic
// functions invoked at specified intervals, and a one-shot "run until"
// primitive a caller can use to block for a fixed duration while logging
// its reason (see RunFor) — rayrun uses Reg to drive the simulation's
// periodic rank-count heartbeat log line (cmd/rayrun/main.go).
//
// Adapted from aistore's hk package (same name, same Reg/Unreg/Run shape);
// trimmed to a single global housekeeper since this runtime has exactly one
// of these per rank process.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"sync"
	"time"

	"github.com/DmitrySigaev/RayPlatform/cmn/nlog"
)

const NameSuffix = ".hk"

type request struct {
	name     string
	f        func() time.Duration
	interval time.Duration
}

// Housekeeper runs registered callbacks on their own goroutine, each on its
// own interval; callbacks reschedule themselves by returning the next
// interval to wait.
type Housekeeper struct {
	mtx      sync.Mutex
	requests map[string]*request
	started  chan struct{}
	stopCh   chan struct{}
	onceStop sync.Once
	onceRun  sync.Once
}

var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		requests: make(map[string]*request),
		started:  make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Reg registers f to run every interval until Unreg(name) or Stop().
func (hk *Housekeeper) Reg(name string, f func() time.Duration, interval time.Duration) {
	hk.mtx.Lock()
	hk.requests[name] = &request{name: name, f: f, interval: interval}
	hk.mtx.Unlock()
	go hk.loop(name)
}

func (hk *Housekeeper) Unreg(name string) {
	hk.mtx.Lock()
	delete(hk.requests, name)
	hk.mtx.Unlock()
}

func (hk *Housekeeper) loop(name string) {
	for {
		hk.mtx.Lock()
		req, ok := hk.requests[name]
		hk.mtx.Unlock()
		if !ok {
			return
		}
		select {
		case <-time.After(req.interval):
			hk.mtx.Lock()
			cur, ok := hk.requests[name]
			hk.mtx.Unlock()
			if !ok || cur != req {
				return // unregistered (or replaced) while waiting
			}
			next := req.f()
			hk.mtx.Lock()
			if cur, ok := hk.requests[name]; ok && cur == req {
				req.interval = next
			}
			hk.mtx.Unlock()
		case <-hk.stopCh:
			return
		}
	}
}

// Run marks the housekeeper started; callers normally do `go hk.Run()`.
func (hk *Housekeeper) Run() {
	hk.onceRun.Do(func() { close(hk.started) })
	<-hk.stopCh
}

func (hk *Housekeeper) WaitStarted() { <-hk.started }

func (hk *Housekeeper) Stop() {
	hk.onceStop.Do(func() { close(hk.stopCh) })
}

// RunFor logs tag and d, then blocks the calling goroutine for d. The
// router's drain window does not use it; it tracks its own deadline (see
// router.Router.Draining).
func RunFor(d time.Duration, tag string) {
	nlog.Infof("hk: %s draining for %s", tag, d)
	<-time.After(d)
}

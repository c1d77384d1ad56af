// Package hk provides mechanism for registering cleanup functions which
// are invoked at specified intervals.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"testing"
	"time"

	"github.com/DmitrySigaev/RayPlatform/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	go hk.DefaultHK.Run()
	hk.DefaultHK.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}

var _ = Describe("Housekeeper", func() {
	It("should invoke a registered callback repeatedly", func() {
		calls := make(chan struct{}, 8)
		hk.DefaultHK.Reg("probe", func() time.Duration {
			calls <- struct{}{}
			return 5 * time.Millisecond
		}, 5*time.Millisecond)
		defer hk.DefaultHK.Unreg("probe")

		Eventually(calls, 2*time.Second).Should(Receive())
		Eventually(calls, 2*time.Second).Should(Receive())
	})

	It("should stop invoking after Unreg", func() {
		calls := make(chan struct{}, 8)
		hk.DefaultHK.Reg("probe2", func() time.Duration {
			calls <- struct{}{}
			return 5 * time.Millisecond
		}, 5*time.Millisecond)
		Eventually(calls, 2*time.Second).Should(Receive())
		hk.DefaultHK.Unreg("probe2")

		for len(calls) > 0 {
			<-calls
		}
		Consistently(calls, 50*time.Millisecond).ShouldNot(Receive())
	})
})

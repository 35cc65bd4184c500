// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

//go:build integration

package plugin_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/spud-tui/spud/internal/host"
	"github.com/spud-tui/spud/internal/plugin/protocol"
	"github.com/spud-tui/spud/internal/plugin/remote"
)

const pumpWait = 5 * time.Second

var _ = Describe("Echo plugin", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		rt     *remote.Runtime
		state  *host.State
		bridge *host.Bridge
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		var err error
		rt, err = remote.NewRuntime([]string{installEcho()})
		Expect(err).NotTo(HaveOccurred())

		state = host.NewState(time.Now())
		bridge = host.NewBridge(state, host.BuiltinCommands())
	})

	AfterEach(func() {
		rt.ShutdownAll()
		cancel()
	})

	It("handshakes, subscribes and echoes custom events", func() {
		result, err := rt.Start(ctx, "spud.echo", pumpWait)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.SelectedAPIVersion).To(Equal(protocol.HostAPIVersion))

		handled, err := rt.PumpNext(ctx, "spud.echo", bridge, pumpWait)
		Expect(err).NotTo(HaveOccurred())
		Expect(handled.Method).To(Equal(protocol.MethodNameSubscribe))
		Expect(handled.IsError).To(BeFalse())

		delivered, err := rt.BroadcastEvent(protocol.CategoryCustom, "greet", json.RawMessage(`"hello"`))
		Expect(err).NotTo(HaveOccurred())
		Expect(delivered).To(Equal(1))

		handled, err = rt.PumpNext(ctx, "spud.echo", bridge, pumpWait)
		Expect(err).NotTo(HaveOccurred())
		Expect(handled.Method).To(Equal(protocol.MethodNamePublishEvent))
		Expect(handled.IsError).To(BeFalse())

		Expect(bridge.Drain()).To(ConsistOf(host.CustomEvent{Tag: "echo.reply", Payload: "hello"}))
	})

	It("exits cleanly when the host shuts it down", func() {
		_, err := rt.Start(ctx, "spud.echo", pumpWait)
		Expect(err).NotTo(HaveOccurred())
		Expect(rt.RunningIDs()).To(ConsistOf("spud.echo"))

		Expect(rt.ShutdownPlugin("spud.echo")).To(Succeed())
		Expect(rt.RunningIDs()).To(BeEmpty())

		_, err = rt.PumpNext(ctx, "spud.echo", bridge, pumpWait)
		Expect(remote.IsNotRunning(err)).To(BeTrue())
	})
})

var _ = Describe("Host loop", func() {
	It("runs plugins until one invokes quit", func() {
		root := GinkgoT().TempDir()
		installScript(root, "spud.quitter", `commands = ["status", "quit"]`, `
echo '{"jsonrpc":"2.0","id":1,"method":"spud.handshake","params":{"plugin_id":"spud.quitter","plugin_version":"0.1.0","supported_api_versions":"^1.0.0"}}'
read -r line
echo '{"jsonrpc":"2.0","id":2,"method":"spud.host.invoke_command","params":{"command":"status","args":[]}}'
read -r line
echo '{"jsonrpc":"2.0","id":3,"method":"spud.host.invoke_command","params":{"command":"quit","args":[]}}'
while read -r line; do :; done
`)

		rt, err := remote.NewRuntime([]string{root})
		Expect(err).NotTo(HaveOccurred())

		state := host.NewState(time.Now())
		loop := host.NewLoop(rt, host.NewBridge(state, host.BuiltinCommands()),
			host.WithTickRate(10*time.Millisecond),
			host.WithPumpBudget(5*time.Millisecond),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Expect(loop.Run(ctx)).To(Succeed())
		Expect(ctx.Err()).NotTo(HaveOccurred(), "loop should stop on quit, not on the deadline")
		Expect(rt.RunningIDs()).To(BeEmpty())
	})

	It("keeps running when a plugin is denied a command", func() {
		root := GinkgoT().TempDir()
		installScript(root, "spud.denied", `subscriptions = ["tick"]`, `
echo '{"jsonrpc":"2.0","id":1,"method":"spud.handshake","params":{"plugin_id":"spud.denied","plugin_version":"0.1.0","supported_api_versions":"^1.0.0"}}'
read -r line
echo '{"jsonrpc":"2.0","id":2,"method":"spud.host.invoke_command","params":{"command":"quit","args":[]}}'
while read -r line; do :; done
`)

		rt, err := remote.NewRuntime([]string{root})
		Expect(err).NotTo(HaveOccurred())
		loop := host.NewLoop(rt, host.NewBridge(host.NewState(time.Now()), host.BuiltinCommands()),
			host.WithTickRate(10*time.Millisecond),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		Expect(loop.Run(ctx)).To(Succeed())
		Expect(ctx.Err()).To(MatchError(context.DeadlineExceeded), "an unauthorized quit must not stop the host")
	})
})

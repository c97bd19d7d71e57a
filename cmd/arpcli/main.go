// Command arpcli is the non-interactive CLI front end spec.md §6 names: it
// selects an interface, drives a subnet sweep, prints discovered devices,
// and optionally blocks (or blocks-and-unblocks) one target for a fixed
// duration. Every wire-format, concurrency and spoof/restore decision stays
// in the core packages; this command only wires flags to them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"arpengine"
	"arpengine/internal/config"
	"arpengine/internal/discovery"
	"arpengine/internal/netctx"
)

var (
	appCtxOnce sync.Once
	appCtx     context.Context
	appCancel  context.CancelFunc
)

// applicationContext returns a context cancelled on the first
// SIGINT/SIGTERM/SIGQUIT, grounded on the teacher's ctx.go
// GetApplicationContext. Unlike the teacher, a second signal doesn't wait
// for the restoration burst Stop() runs on graceful shutdown — it exits
// immediately, the same "stop asking, just leave" escape hatch
// prabalesh-slayer's shell.go gives an operator who doesn't want to wait.
func applicationContext() context.Context {
	appCtxOnce.Do(func() {
		appCtx, appCancel = context.WithCancel(context.Background())
		go func() {
			signals := []os.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT}
			sigChan := make(chan os.Signal, 2)
			signal.Notify(sigChan, signals...)
			defer signal.Reset(signals...)

			<-sigChan
			appCancel()

			<-sigChan
			fmt.Fprintln(os.Stderr, "arpcli: second signal received, exiting without restoring victims")
			os.Exit(1)
		}()
	})
	return appCtx
}

func main() {
	iface := flag.String("iface", "", "interface to bind (required)")
	list := flag.Bool("list", false, "list candidate physical interfaces and exit")
	scan := flag.Bool("scan", true, "sweep the bound subnet for devices")
	blockIP := flag.String("block", "", "IP address to block for -duration, then restore")
	duration := flag.Duration("duration", 30*time.Second, "how long to hold -block's target blocked")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *list {
		if err := listInterfaces(); err != nil {
			logger.Error("listing interfaces", "err", err)
			os.Exit(1)
		}
		return
	}

	if *iface == "" {
		fmt.Fprintln(os.Stderr, "arpcli: -iface is required (use -list to see candidates)")
		os.Exit(2)
	}

	if err := run(applicationContext(), logger, *iface, *scan, *blockIP, *duration); err != nil {
		logger.Error("arpcli exiting", "err", err)
		os.Exit(1)
	}
}

func listInterfaces() error {
	ifaces, err := netctx.PhysicalInterfaces()
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		fmt.Printf("%s\t%s\n", iface.Name, iface.HardwareAddr)
	}
	return nil
}

func run(ctx context.Context, logger *slog.Logger, ifaceName string, doScan bool, blockTarget string, blockDuration time.Duration) error {
	binding, err := netctx.NewBindingForInterface(ifaceName)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eng, err := arpengine.NewArpEngine(binding, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	logDone := streamLogs(eng)
	defer logDone()

	eng.Start(ctx)

	if doScan {
		logger.Info("sweeping subnet", "iface", ifaceName)
		if err := eng.Scan(ctx, func(pct int) {
			if pct%25 == 0 {
				logger.Info("scan progress", "percent", pct)
			}
		}); err != nil && ctx.Err() == nil {
			return err
		}
	}

	if err := eng.ResolveHostnames(ctx); err != nil {
		logger.Warn("resolving hostnames", "err", err)
	}

	printDevices(eng.Devices())

	if blockTarget == "" {
		<-ctx.Done()
		return nil
	}

	return runBlockCycle(ctx, logger, eng, blockTarget, blockDuration)
}

func runBlockCycle(ctx context.Context, logger *slog.Logger, eng *arpengine.ArpEngine, target string, duration time.Duration) error {
	gateway, ok := eng.Gateway()
	if !ok {
		// One targeted probe, in case the sweep's grace window missed the
		// gateway's reply.
		if err := eng.Request(ctx, eng.Binding.GatewayIP); err != nil {
			return err
		}
		gateway, ok = eng.Gateway()
		if !ok {
			return fmt.Errorf("arpcli: gateway %s did not respond", eng.Binding.GatewayIP)
		}
	}

	ip := net.ParseIP(target).To4()
	if ip == nil {
		return fmt.Errorf("arpcli: %q is not an IPv4 address", target)
	}

	victim, ok := findDeviceByIP(eng.Devices(), ip)
	if !ok {
		if err := eng.Request(ctx, ip); err != nil {
			return err
		}
		victim, ok = findDeviceByIP(eng.Devices(), ip)
		if !ok {
			return fmt.Errorf("arpcli: target %s did not respond to ARP", target)
		}
	}

	blocker := arpengine.NewBlockingEngine(eng, gateway)
	if err := blocker.Start(ctx); err != nil {
		return err
	}
	defer blocker.Stop()

	if err := blocker.Block(victim); err != nil {
		return err
	}
	logger.Info("blocking", "ip", victim.IP, "mac", victim.MAC, "for", duration)

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(duration):
	}

	return blocker.Unblock(victim)
}

func findDeviceByIP(devices []discovery.Device, ip net.IP) (discovery.Device, bool) {
	for _, d := range devices {
		if d.IP.Equal(ip) {
			return d, true
		}
	}
	return discovery.Device{}, false
}

func printDevices(devices []discovery.Device) {
	for _, d := range devices {
		flags := ""
		if d.IsGateway {
			flags += " [gateway]"
		}
		if d.IsBlocked {
			flags += " [blocked]"
		}
		fmt.Printf("%-15s %-17s %-20s %s%s\n", d.IP, d.MAC, d.Vendor, d.Hostname, flags)
	}
}

// streamLogs mirrors the engine's bounded log-event stream to stderr until
// the returned func is called.
func streamLogs(eng *arpengine.ArpEngine) func() {
	events, unsubscribe := eng.Logs()
	go func() {
		for ev := range events {
			fmt.Fprintln(os.Stderr, ev.Msg)
		}
	}()
	return unsubscribe
}

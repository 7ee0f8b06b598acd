// Command syspartd is the standalone policy daemon: it loads a YAML
// policy document, then runs the single-threaded cooperative event loop
// of spec §5, classifying processes from proc-connector events into
// cgroup partitions and routing Telepathy telephony signals into the
// call state machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/sysparts/syspartd/internal/appnotify"
	"github.com/sysparts/syspartd/internal/busrouter"
	"github.com/sysparts/syspartd/internal/cgroup"
	"github.com/sysparts/syspartd/internal/classifier"
	"github.com/sysparts/syspartd/internal/config"
	"github.com/sysparts/syspartd/internal/console"
	"github.com/sysparts/syspartd/internal/fact"
	"github.com/sysparts/syspartd/internal/procsource"
	"github.com/sysparts/syspartd/internal/resolver"
	"github.com/sysparts/syspartd/internal/resource"
	"github.com/sysparts/syspartd/internal/rule"
	"github.com/sysparts/syspartd/internal/telephony"
)

// DefaultControlSocket is where syspartctl looks for the daemon by
// default (spec §6 "CLI/console (optional)").
const DefaultControlSocket = "/run/syspartd/control.sock"

func main() {
	configPath := flag.String("config", "/etc/ohm/plugins.d/syspart.conf", "policy document path (spec §6)")
	addonDir := flag.String("addon-dir", "/etc/ohm/plugins.d/syspart.addons.d", "hot-reloadable addon rule directory")
	udpPort := flag.Int("udp-port", appnotify.DefaultPort, "app-tracker/DTMF UDP notification port")
	resourceSock := flag.String("resource-socket", "/run/syspartd/resource.sock", "resource-protocol transport socket")
	controlSock := flag.String("control-socket", DefaultControlSocket, "syspartctl control socket path")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "syspartd",
		Level: hclog.LevelFromString(*logLevel),
	})

	if err := run(logger, *configPath, *addonDir, *udpPort, *resourceSock, *controlSock); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger hclog.Logger, configPath, addonDir string, udpPort int, resourceSock, controlSock string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("syspartd: load config: %w", err)
	}

	facts := fact.NewStore()
	reader := procsource.NewReader()

	clf := classifier.New(loaded.Model, reader, reader, logger)
	clf.PriorityCurve = loaded.PriorityCurve
	clf.OOMCurve = loaded.OOMCurve
	clf.Resolver = resolver.Noop{}

	mountPoint, found, err := cgroup.DiscoverMount("")
	if err != nil {
		return fmt.Errorf("syspartd: discover cgroup mount: %w", err)
	}
	if !found {
		mountPoint = loaded.MountPoint
		if err := cgroup.Mount(mountPoint, loaded.Subsystems); err != nil {
			return fmt.Errorf("syspartd: mount cgroup: %w", err)
		}
	}

	for name, part := range loaded.Model.Partitions {
		part.Path = cgroup.RewritePath(loaded.MountPoint, mountPoint, part.Path)
		handle, err := cgroup.Open(part, logger)
		if err != nil {
			return fmt.Errorf("syspartd: open partition %q: %w", name, err)
		}
		defer handle.Close()
		clf.Partitions[name] = handle
	}

	for name, grp := range loaded.Model.Groups {
		if grp.Flags.Has(rule.FlagFactExported) {
			grp.Mirror = fact.NewGroupMirror(facts, name)
		}
	}

	if err := os.MkdirAll(addonDir, 0o755); err != nil {
		return fmt.Errorf("syspartd: create addon dir: %w", err)
	}
	addonWatcher, err := rule.NewAddonWatcher(loaded.Model, config.Loader{}, addonDir, logger)
	if err != nil {
		return fmt.Errorf("syspartd: start addon watcher: %w", err)
	}
	defer addonWatcher.Close()
	addonWatcher.Reload()

	notifier, err := appnotify.DialNotifier(udpPort)
	if err != nil {
		return fmt.Errorf("syspartd: dial app-tracker notifier: %w", err)
	}
	defer notifier.Close()
	clf.AttachNotifier(notifier)

	listener, err := appnotify.Listen(udpPort, func(pid int, state appnotify.State) {
		logger.Debug("app-tracker notification received", "pid", pid, "state", state)
	}, logger)
	if err != nil {
		return fmt.Errorf("syspartd: listen app-tracker: %w", err)
	}
	defer listener.Close()

	bus := busrouter.New(logger)
	if err := bus.ConnectSystem(); err != nil {
		return fmt.Errorf("syspartd: %w", err)
	}
	if err := bus.ConnectSession(); err != nil {
		logger.Warn("session bus not yet available, waiting for NewSession", "error", err)
	}

	resctl := resource.New(resource.NewUnixTransport(resourceSock), logger)
	tel := telephony.New(bus, resolver.Noop{}, facts, resctl, telephony.DefaultConfig(), logger)
	if err := tel.Start(); err != nil {
		return fmt.Errorf("syspartd: start telephony router: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	netlink := procsource.NewConn(logger)
	go netlink.Run(ctx)

	if err := clf.BulkDiscover(); err != nil {
		logger.Warn("bulk discovery failed", "error", err)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify READY failed", "error", err)
	} else if ok {
		logger.Info("notified supervisor of readiness")
	}

	if err := os.MkdirAll(filepath.Dir(controlSock), 0o755); err != nil {
		return fmt.Errorf("syspartd: create control socket dir: %w", err)
	}
	bridge := console.NewBridge()
	ctlSrv, err := console.Serve(controlSock, bridge.Handler(), logger)
	if err != nil {
		return fmt.Errorf("syspartd: start control socket: %w", err)
	}
	defer ctlSrv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return eventLoop(ctx, logger, clf, loaded.Model, addonWatcher, listener, netlink, bridge, sigCh)
}

// eventLoop is spec §5's single cooperative loop: it multiplexes
// proc-connector events, addon-rule filesystem notifications, delayed
// reclassification deadlines, and UDP app-tracker datagrams. D-Bus
// signals and methods are dispatched by godbus's own per-connection
// goroutine (installed in internal/busrouter), since ExportMethodTable
// and the Signal channel already serialize delivery within one
// connection the way this loop serializes delivery within one source;
// cross-source ordering is unspecified either way, matching spec §5.
func eventLoop(ctx context.Context, logger hclog.Logger, clf *classifier.Classifier, model *rule.Model, addonWatcher *rule.AddonWatcher, listener *appnotify.Listener, netlink *procsource.Conn, bridge *console.Bridge, sigCh chan os.Signal) error {
	udpEvents := make(chan struct{})
	go func() {
		for {
			if err := listener.ReadOnce(); err != nil {
				logger.Warn("app-tracker listener error", "error", err)
				return
			}
			udpEvents <- struct{}{}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var wake <-chan time.Time
		if deadline, ok := clf.NextDelayedDeadline(); ok {
			wake = time.After(time.Until(deadline))
		}

		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			return nil
		case pe, ok := <-netlink.Events():
			if !ok {
				logger.Error("netlink connection permanently closed")
				return fmt.Errorf("syspartd: netlink source closed")
			}
			clf.HandleProcEvent(pe)
		case ev, ok := <-addonWatcher.Events():
			if !ok {
				continue
			}
			logger.Debug("addon directory event", "name", ev.Name, "op", ev.Op.String())
			addonWatcher.Reload()
		case err, ok := <-addonWatcher.Errors():
			if ok {
				logger.Warn("addon watcher error", "error", err)
			}
		case <-udpEvents:
			// datagram already dispatched synchronously inside ReadOnce's handler.
		case now := <-ticker.C:
			clf.PollDelayed(now)
		case <-wake:
			clf.PollDelayed(time.Now())
		case p := <-bridge.Pending():
			p.Reply(handleConsoleRequest(clf, model, p.Req))
		}
	}
}

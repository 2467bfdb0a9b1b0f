// Command cynode runs a single Cyphal node: the transfer engine, register
// store, standard service handlers, and the reference actuator
// setpoint/feedback payload (spec.md §1), driven by the single-threaded
// cooperative scheduler (spec.md §4.8). All configuration is via
// registers (spec.md §6 "CLI surface": "accepts no runtime arguments or
// flags"); this file's job is solely to wire the packages together the
// way the teacher's examples/echo/server wired a Transport into a Conn.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opencyphal-garage/cynode/pkg/diag"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/iface"
	_ "github.com/opencyphal-garage/cynode/pkg/iface/cansock"
	_ "github.com/opencyphal-garage/cynode/pkg/iface/udpmcast"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/node/services"
	"github.com/opencyphal-garage/cynode/pkg/register"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

const (
	serviceRequestExtent = 300               // register.Access request/response: name (<=255) + value + flags
	listRequestExtent    = 64                // register.List request: a single uint16 index
	genericRequestExtent = 64                // GetInfo / ExecuteCommand requests
	subjectExtent        = 64                // actuator subjects are all small fixed-size payloads
	transferIDTimeout    = 2 * time.Second   // spec.md §4.5 "transfer-ID-timeout"
	rpcDeadline          = 1 * time.Second   // spec.md §5 "RPC responses are sent with their own deadline (default 1 s)"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cynode: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	kvPath := os.Getenv("CYNODE_KV_PATH")
	if kvPath == "" {
		kvPath = "cynode.db"
	}

	for {
		restart, err := runOnce(logger, kvPath)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}
		logger.Info("restarting")
	}
}

// runOnce boots the node, runs it until a restart is requested or the
// process receives a termination signal, and shuts it down cleanly.
// restart reports whether the caller should reopen and loop (spec.md §4.7
// "[Restarting]"); err is non-nil only on unrecoverable I/O failure
// (spec.md §6 "Exit code ... non-zero on unrecoverable I/O failure").
func runOnce(logger *zap.Logger, kvPath string) (restart bool, err error) {
	uniqueID, err := loadOrCreateUniqueID(kvPath)
	if err != nil {
		return false, err
	}

	reg := prometheus.NewRegistry()
	metrics := diag.NewProm(reg)
	go serveMetrics(reg, logger)

	n, err := node.New(
		node.WithKVPath(kvPath),
		node.WithUniqueID(uniqueID),
		node.WithLogger(logger),
		node.WithMetrics(metrics),
		node.WithProductInfo("org.opencyphal-garage.cynode", 1, 0, 0),
	)
	if err != nil {
		return false, err
	}

	ports := initRegisters(n)
	applyEnvOverrides(n.Tree(), envOverrides(), func(name, raw string, err error) {
		logger.Warn("ignoring environment override", zap.String("register", name), zap.String("raw", raw), zap.Error(err))
	})
	n.Tree().Freeze()

	crc, err := attachInterfaces(n, ports)
	if err != nil {
		return false, err
	}

	getInfo := services.NewGetInfo(n, 1, 0, 0, "org.opencyphal-garage.cynode")
	if err := n.RegisterServer(uint16(node.ServiceGetInfo), genericRequestExtent, transferIDTimeout, crc, getInfo.Handle); err != nil {
		return false, err
	}
	if err := n.RegisterServer(uint16(node.ServiceExecuteCommand), genericRequestExtent, transferIDTimeout, crc,
		services.NewExecuteCommand(n).Handle); err != nil {
		return false, err
	}
	if err := n.RegisterServer(uint16(node.ServiceRegisterAccess), serviceRequestExtent, transferIDTimeout, crc,
		services.NewRegisterAccess(n).Handle); err != nil {
		return false, err
	}
	if err := n.RegisterServer(uint16(node.ServiceRegisterList), listRequestExtent, transferIDTimeout, crc,
		services.NewRegisterList(n).Handle); err != nil {
		return false, err
	}

	heartbeat := services.NewHeartbeat(n, node.SubjectHeartbeat, dsdl.PriorityNominal)
	portList := services.NewPortList(n, node.SubjectPortList)

	var pnpClient *services.PnPClient
	if n.Anonymous() {
		pnpClient, err = services.NewPnPClient(n, genericRequestExtent, transferIDTimeout, crc)
		if err != nil {
			return false, err
		}
	}

	actuator, err := services.NewActuator(n, ports.actuator, subjectExtent, transferIDTimeout, crc)
	if err != nil {
		return false, err
	}

	sched := node.NewScheduler(n.Clock(), node.DefaultFastPeriod, node.DefaultOneHzPeriod, node.DefaultTenthHzPeriod)
	sched.FastTick = func(now time.Duration) {
		if err := actuator.FastTick(now); err != nil {
			logger.Warn("fast tick failed", zap.Error(err))
		}
	}
	sched.OneHzTick = func(now time.Duration) {
		if pnpClient != nil {
			if err := pnpClient.Tick(now); err != nil {
				logger.Warn("pnp tick failed", zap.Error(err))
			}
		}
		if err := heartbeat.Tick(now); err != nil {
			logger.Warn("heartbeat tick failed", zap.Error(err))
		}
		actuator.OneHzTick(now)
		if reaped := n.ReapSubscriptions(now); reaped > 0 {
			logger.Debug("reaped stale reassembly sessions", zap.Int("count", reaped))
		}
	}
	sched.TenthHzTick = func(now time.Duration) {
		if err := portList.Tick(now); err != nil {
			logger.Warn("port.List tick failed", zap.Error(err))
		}
	}
	sched.IOStep = n.IOStep
	sched.ShouldStop = n.RestartRequired

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler stopped", zap.Error(err))
	}

	if err := n.Shutdown(); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	factoryReset := n.FactoryResetRequested()
	wantRestart := n.RestartRequired()
	if factoryReset {
		os.Remove(kvPath)
	}
	return wantRestart, nil
}

func serveMetrics(reg *prometheus.Registry, logger *zap.Logger) {
	addr := os.Getenv("CYNODE_METRICS_ADDR")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// portConfig is the frozen set of port-IDs this boot resolved from
// registers, used to wire up interfaces and the actuator payload.
type portConfig struct {
	canIfaceNames string
	udpIfaceNames string
	actuator      services.ActuatorPorts
}

// Command conveyor launches the Conveyor agent: the belt ring that
// ferries plates between robot positions and the Kitchen. See
// spec.md §4.3 and §6.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"kitchen-sim/internal/adminhttp"
	"kitchen-sim/internal/config"
	"kitchen-sim/internal/conveyor"
	"kitchen-sim/internal/events"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/nodebus/discovery"
	"kitchen-sim/internal/nodebus/grpcbus"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: conveyor <robot_count>")
		os.Exit(1)
	}
	robotCount64, err := strconv.ParseUint(os.Args[1], 10, 32)
	if err != nil {
		log.Fatalf("conveyor: invalid robot_count %q: %v", os.Args[1], err)
	}
	robotCount := uint32(robotCount64)

	cfg := config.Load()

	bus, err := grpcbus.Listen("0.0.0.0:0")
	if err != nil {
		log.Fatalf("conveyor: listen: %v", err)
	}
	client := grpcbus.NewClient(cfg.ConnectTimeout, cfg.CallTimeout)

	dir, err := discovery.Connect(cfg.RedisURL, cfg.TRenew)
	if err != nil {
		log.Fatalf("conveyor: connect discovery: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	controllerEndpoint, err := findOneServer(ctx, dir, "Controller")
	cancel()
	if err != nil {
		log.Fatalf("conveyor: find controller: %v", err)
	}
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	controllerSession, err := client.Connect(connectCtx, controllerEndpoint)
	connectCancel()
	if err != nil {
		log.Fatalf("conveyor: connect to controller %s: %v", controllerEndpoint, err)
	}
	controllerCaller := conveyor.NewNodebusControllerCaller(client, controllerSession)

	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	kitchenEndpoint, err := findOneServer(ctx2, dir, "Kitchen")
	cancel2()
	if err != nil {
		log.Fatalf("conveyor: find kitchen: %v", err)
	}
	kitchenConnectCtx, kitchenConnectCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	kitchenSession, err := client.Connect(kitchenConnectCtx, kitchenEndpoint)
	kitchenConnectCancel()
	if err != nil {
		log.Fatalf("conveyor: connect to kitchen %s: %v", kitchenEndpoint, err)
	}
	kitchenCaller := conveyor.NewNodebusKitchenCaller(client, kitchenSession)

	robotCaller := conveyor.NewNodebusRobotCaller(client)

	stats := events.NewStats()
	sink := events.NewSink(cfg.KafkaBrokers, "kitchen-orders")

	cv := conveyor.New(bus.Endpoint(), robotCount, cfg.TimeUnit, bus, robotCaller, controllerCaller, kitchenCaller, stats, sink)
	if err := cv.Register(); err != nil {
		log.Fatalf("conveyor: register: %v", err)
	}

	renewCtx, renewCancel := context.WithCancel(context.Background())
	go renewLoop(renewCtx, dir, nodebus.ServerDescriptor{Endpoint: bus.Endpoint(), ObjectTypes: []string{"Conveyor"}}, cfg.TRenew)

	admin := adminhttp.New(stats, nil)
	admin.SetReady(true)
	go func() {
		if err := admin.ListenAndServe(":" + cfg.AdminPort); err != nil {
			log.Printf("conveyor: admin server stopped: %v", err)
		}
	}()

	log.Printf("conveyor: listening on %s (robot_count=%d controller=%s kitchen=%s)", bus.Endpoint(), robotCount, controllerEndpoint, kitchenEndpoint)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("conveyor: shutting down")
	renewCancel()
	cv.Stop()
	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	_ = dir.Deregister(deregisterCtx, bus.Endpoint())
	deregisterCancel()
	_ = dir.Close()
	_ = bus.Close()
}

func findOneServer(ctx context.Context, dir nodebus.Directory, objectType string) (string, error) {
	for {
		endpoints, err := dir.FindServers(ctx, objectType)
		if err == nil && len(endpoints) > 0 {
			return endpoints[0], nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return "", err
			}
			return "", fmt.Errorf("no %s server registered", objectType)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func renewLoop(ctx context.Context, dir nodebus.Directory, desc nodebus.ServerDescriptor, interval time.Duration) {
	register := func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := dir.Register(rctx, desc); err != nil {
			log.Printf("discovery: register %s failed: %v", desc.Endpoint, err)
		}
	}
	register()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			register()
		}
	}
}

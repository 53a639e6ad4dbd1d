// Command kitchen launches the Kitchen agent: order admission, robot
// membership mirrors, and the order counters published as Kitchen
// attributes on the bus (/stats serves the events.Stats snapshot).
// See spec.md §4.5 and §6.
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
	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/config"
	"kitchen-sim/internal/events"
	"kitchen-sim/internal/kitchen"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/nodebus/discovery"
	"kitchen-sim/internal/nodebus/grpcbus"
	"kitchen-sim/internal/spectate"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: kitchen <robot_count>")
		os.Exit(1)
	}
	robotCount64, err := strconv.ParseUint(os.Args[1], 10, 32)
	if err != nil {
		log.Fatalf("kitchen: invalid robot_count %q: %v", os.Args[1], err)
	}
	robotCount := uint32(robotCount64)

	cfg := config.Load()

	reg, err := catalog.LoadRegistry("actions.json")
	if err != nil {
		log.Fatalf("kitchen: load action registry: %v", err)
	}
	cat, err := catalog.LoadCatalog("recipes.json", reg)
	if err != nil {
		log.Fatalf("kitchen: load recipe catalog: %v", err)
	}

	bus, err := grpcbus.Listen("0.0.0.0:0")
	if err != nil {
		log.Fatalf("kitchen: listen: %v", err)
	}
	client := grpcbus.NewClient(cfg.ConnectTimeout, cfg.CallTimeout)

	dir, err := discovery.Connect(cfg.RedisURL, cfg.TRenew)
	if err != nil {
		log.Fatalf("kitchen: connect discovery: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	controllerEndpoint, err := findOneServer(ctx, dir, "Controller")
	cancel()
	if err != nil {
		log.Fatalf("kitchen: find controller: %v", err)
	}
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	controllerSession, err := client.Connect(connectCtx, controllerEndpoint)
	connectCancel()
	if err != nil {
		log.Fatalf("kitchen: connect to controller %s: %v", controllerEndpoint, err)
	}
	controllerCaller := kitchen.NewNodebusControllerCaller(client, controllerSession)
	robotCaller := kitchen.NewNodebusRobotCaller(client)

	sink := events.NewSink(cfg.KafkaBrokers, "kitchen-orders")

	k := kitchen.New(bus.Endpoint(), robotCount, cfg.PlacingRate, cat, bus, dir, client, controllerCaller, robotCaller, sink)
	if err := k.Register(); err != nil {
		log.Fatalf("kitchen: register: %v", err)
	}

	rediscoverCtx, rediscoverCancel := context.WithCancel(context.Background())
	k.StartRediscovery(rediscoverCtx)
	livenessCtx, livenessCancel := context.WithCancel(context.Background())
	k.StartLivenessChecks(livenessCtx)

	renewCtx, renewCancel := context.WithCancel(context.Background())
	go renewLoop(renewCtx, dir, nodebus.ServerDescriptor{Endpoint: bus.Endpoint(), ObjectTypes: []string{"Kitchen"}}, cfg.TRenew)

	stats := events.NewStats()
	hub := spectate.NewHub()
	go hub.Run()

	admin := adminhttp.New(stats, hub)
	admin.SetReady(true)
	go func() {
		if err := admin.ListenAndServe(":" + cfg.AdminPort); err != nil {
			log.Printf("kitchen: admin server stopped: %v", err)
		}
	}()

	log.Printf("kitchen: listening on %s (robot_count=%d controller=%s)", bus.Endpoint(), robotCount, controllerEndpoint)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("kitchen: shutting down")
	rediscoverCancel()
	livenessCancel()
	renewCancel()
	k.Stop()
	hub.Stop()
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

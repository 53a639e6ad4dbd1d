// Command robot launches one Robot agent: position, capabilities, and
// cooking execution are all local; it requires only the Conveyor to
// hand off to. See spec.md §4.2 and §6.
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

	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/config"
	"kitchen-sim/internal/events"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/nodebus/discovery"
	"kitchen-sim/internal/nodebus/grpcbus"
	"kitchen-sim/internal/robot"

	"kitchen-sim/internal/adminhttp"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: robot <position> <capabilities_file_name>")
		os.Exit(1)
	}
	position64, err := strconv.ParseUint(os.Args[1], 10, 32)
	if err != nil {
		log.Fatalf("robot: invalid position %q: %v", os.Args[1], err)
	}
	position := uint32(position64)
	capabilitiesFile := os.Args[2]

	cfg := config.Load()

	reg, err := catalog.LoadRegistry("actions.json")
	if err != nil {
		log.Fatalf("robot: load action registry: %v", err)
	}
	cat, err := catalog.LoadCatalog("recipes.json", reg)
	if err != nil {
		log.Fatalf("robot: load recipe catalog: %v", err)
	}
	caps, err := catalog.LoadCapabilities(capabilitiesFile, reg)
	if err != nil {
		log.Fatalf("robot: load capabilities %s: %v", capabilitiesFile, err)
	}

	bus, err := grpcbus.Listen("0.0.0.0:0")
	if err != nil {
		log.Fatalf("robot: listen: %v", err)
	}
	client := grpcbus.NewClient(cfg.ConnectTimeout, cfg.CallTimeout)

	dir, err := discovery.Connect(cfg.RedisURL, cfg.TRenew)
	if err != nil {
		log.Fatalf("robot: connect discovery: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	conveyorEndpoint, err := findOneServer(ctx, dir, "Conveyor")
	cancel()
	if err != nil {
		log.Fatalf("robot: find conveyor: %v", err)
	}
	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	conveyorSession, err := client.Connect(connectCtx, conveyorEndpoint)
	connectCancel()
	if err != nil {
		log.Fatalf("robot: connect to conveyor %s: %v", conveyorEndpoint, err)
	}
	conveyorNotifier := robot.NewConveyorClient(client, conveyorSession)

	rb := robot.New(bus.Endpoint(), position, caps, cat, cfg.RetoolCost, bus, conveyorNotifier)
	if err := rb.Register(); err != nil {
		log.Fatalf("robot: register: %v", err)
	}

	renewCtx, renewCancel := context.WithCancel(context.Background())
	go renewLoop(renewCtx, dir, nodebus.ServerDescriptor{Endpoint: bus.Endpoint(), ObjectTypes: []string{"Robot"}}, cfg.TRenew)

	stats := events.NewStats()
	admin := adminhttp.New(stats, nil)
	admin.SetReady(true)
	go func() {
		if err := admin.ListenAndServe(":" + cfg.AdminPort); err != nil {
			log.Printf("robot: admin server stopped: %v", err)
		}
	}()

	log.Printf("robot: position %d listening on %s (conveyor=%s)", position, bus.Endpoint(), conveyorEndpoint)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("robot: shutting down")
	renewCancel()
	rb.Stop()
	registerCtx, registerCancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	_ = dir.Deregister(registerCtx, bus.Endpoint())
	registerCancel()
	_ = dir.Close()
	_ = bus.Close()
}

// findOneServer retries find_servers until at least one endpoint
// hosting objectType is registered, or ctx expires.
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

// renewLoop registers desc immediately and every interval thereafter,
// per spec.md §5's discovery-renewal thread.
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

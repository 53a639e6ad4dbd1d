// Command controller launches the Controller agent: membership
// tracking and next-robot selection for every in-flight recipe. See
// spec.md §4.4 and §6.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kitchen-sim/internal/adminhttp"
	"kitchen-sim/internal/catalog"
	"kitchen-sim/internal/config"
	"kitchen-sim/internal/controller"
	"kitchen-sim/internal/events"
	"kitchen-sim/internal/nodebus"
	"kitchen-sim/internal/nodebus/discovery"
	"kitchen-sim/internal/nodebus/grpcbus"
)

func main() {
	cfg := config.Load()

	reg, err := catalog.LoadRegistry("actions.json")
	if err != nil {
		log.Fatalf("controller: load action registry: %v", err)
	}
	cat, err := catalog.LoadCatalog("recipes.json", reg)
	if err != nil {
		log.Fatalf("controller: load recipe catalog: %v", err)
	}

	bus, err := grpcbus.Listen("0.0.0.0:0")
	if err != nil {
		log.Fatalf("controller: listen: %v", err)
	}
	client := grpcbus.NewClient(cfg.ConnectTimeout, cfg.CallTimeout)

	dir, err := discovery.Connect(cfg.RedisURL, cfg.TRenew)
	if err != nil {
		log.Fatalf("controller: connect discovery: %v", err)
	}

	responder := controller.NewNodebusResponderCaller(client)

	ctl := controller.New(bus.Endpoint(), cfg.TDiscover, cat, nil, bus, dir, client, responder)
	if err := ctl.Register(); err != nil {
		log.Fatalf("controller: register: %v", err)
	}

	discoverCtx, discoverCancel := context.WithCancel(context.Background())
	ctl.StartDiscovery(discoverCtx)

	renewCtx, renewCancel := context.WithCancel(context.Background())
	go renewLoop(renewCtx, dir, nodebus.ServerDescriptor{Endpoint: bus.Endpoint(), ObjectTypes: []string{"Controller"}}, cfg.TRenew)

	stats := events.NewStats()
	admin := adminhttp.New(stats, nil)
	admin.SetReady(true)
	go func() {
		if err := admin.ListenAndServe(":" + cfg.AdminPort); err != nil {
			log.Printf("controller: admin server stopped: %v", err)
		}
	}()

	log.Printf("controller: listening on %s", bus.Endpoint())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("controller: shutting down")
	discoverCancel()
	renewCancel()
	ctl.Stop()
	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	_ = dir.Deregister(deregisterCtx, bus.Endpoint())
	deregisterCancel()
	_ = dir.Close()
	_ = bus.Close()
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

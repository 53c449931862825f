// bridge-sim - simulated BLE bridge agents for a running swarm
// Each agent owns one virtual cube and logs the commands it receives
package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/teslashibe/go-swarm/internal/config"
	"github.com/teslashibe/go-swarm/internal/log"
	"github.com/teslashibe/go-swarm/pkg/bridge"
	"github.com/teslashibe/go-swarm/pkg/clock"
)

func main() {
	url := flag.String("url", config.BridgeURL(), "Swarm server base URL (overrides SWARM_BRIDGE_URL env var)")
	count := flag.Int("n", 3, "Number of cubes, ids 0..n-1")
	unplugAfter := flag.Duration("unplug-after", 0, "Unplug cube 0 after this long (0 keeps it)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	cubes := make([]*bridge.SimCube, *count)
	for id := 0; id < *count; id++ {
		cube := bridge.NewSimCube(id, log.Component("sim").With("cube", id))
		cubes[id] = cube

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runAgent(ctx, *url, id, cube)
		}(id)
	}

	if *unplugAfter > 0 && *count > 0 {
		go func() {
			if err := clock.Sleep(ctx, clock.Real(), *unplugAfter); err == nil {
				log.Warn("unplugging cube", "cube", 0)
				cubes[0].Unplug()
			}
		}()
	}

	wg.Wait()
	for id, cube := range cubes {
		st := cube.State()
		log.Info("cube summary", "cube", id, "commands", st.Commands, "connected", st.Connected)
	}
}

// runAgent keeps one agent connected until ctx is done.
func runAgent(ctx context.Context, url string, id int, cube *bridge.SimCube) {
	logger := log.Component("bridge-sim").With("cube", id)
	for ctx.Err() == nil {
		agent, err := bridge.Dial(ctx, url, id, cube, logger)
		if err != nil {
			logger.Warn("dial failed, retrying", "error", err)
			if clock.Sleep(ctx, clock.Real(), 2*time.Second) != nil {
				return
			}
			continue
		}
		if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("agent disconnected", "error", err)
		}
		agent.Close()
	}
}

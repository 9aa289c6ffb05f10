package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-spin/v1/lock"
	"github.com/mirkobrombin/go-spin/v1/spinlock"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 1000000, "Critical sections")
	target      = flag.String("target", "all", "Target: spin, yield, exponential, owned, mutex, keyed-memory, keyed-redis")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"spin", "yield", "exponential", "owned", "mutex", "keyed-memory", "keyed-redis"}
	}

	fmt.Printf("| %-13s | %-12s | %-12s | %-8s |\n", "Lock", "Ops/sec", "Avg Latency", "Counter")
	fmt.Println("|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t))
	}
}

// section runs one critical section and reports whether it succeeded.
type section func(ctx context.Context, body func()) error

func runBenchmark(name string) {
	var (
		run     section
		cleanup func()
	)
	ctx := context.Background()
	key := "bench:lock"

	spin := func(b spinlock.Backoff) section {
		l := spinlock.New(spinlock.WithBackoff(b))
		return func(_ context.Context, body func()) error {
			l.Acquire()
			body()
			return l.Release()
		}
	}

	switch name {
	case "spin":
		run = spin(spinlock.Spin)
	case "yield":
		run = spin(spinlock.Yield)
	case "exponential":
		run = spin(spinlock.Exponential(spinlock.DefaultMaxBackoff))

	case "owned":
		l := spinlock.NewOwned()
		run = func(_ context.Context, body func()) error {
			t := l.Acquire()
			body()
			return l.Release(t)
		}

	case "mutex":
		var mu sync.Mutex
		run = func(_ context.Context, body func()) error {
			mu.Lock()
			body()
			mu.Unlock()
			return nil
		}

	case "keyed-memory":
		l := lock.NewInMemory(nil)
		run = func(ctx context.Context, body func()) error {
			tok, err := l.Acquire(ctx, key, 0)
			if err != nil {
				return err
			}
			body()
			return l.Release(ctx, key, tok)
		}

	case "keyed-redis":
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			fmt.Printf("| %-13s | %-12s | %-12s | %-8s |\n", name, "ERROR", "-", "-")
			_ = client.Close()
			return
		}
		l := lock.NewRedis(client, nil, lock.WithPollInterval(time.Millisecond))
		run = func(ctx context.Context, body func()) error {
			tok, err := l.Acquire(ctx, key, time.Minute)
			if err != nil {
				return err
			}
			body()
			return l.Release(ctx, key, tok)
		}
		cleanup = func() { _ = client.Close() }

	default:
		log.Printf("Unknown target: %s", name)
		return
	}

	if cleanup != nil {
		defer cleanup()
	}

	var (
		wg      sync.WaitGroup
		counter int
	)
	total := *requests
	if name == "keyed-redis" && total > 10000 {
		total = 10000
	}
	chunk := total / *concurrency

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < chunk; j++ {
				if err := run(ctx, func() { counter++ }); err != nil {
					log.Printf("%s: %v", name, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if counter == 0 {
		fmt.Printf("| %-13s | %-12s | %-12s | %-8s |\n", name, "ERROR", "-", "-")
		return
	}

	throughput := float64(counter) / elapsed.Seconds()
	avgLat := float64(elapsed.Nanoseconds()) / float64(counter)
	status := fmt.Sprint(counter)
	if counter != chunk**concurrency {
		status += " LOST"
	}
	fmt.Printf("| %-13s | %-12.0f | %-12.0f | %-8s |\n", name, throughput, avgLat, status)
}

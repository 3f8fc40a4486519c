package redpanda

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerInfo holds one pooled Redpanda container and its broker address.
type ContainerInfo struct {
	Container tc.Container
	Broker    string
	ID        int
}

// ContainerPool shares a fixed set of Redpanda containers across
// integration tests, so each test borrows a broker instead of paying the
// container startup cost itself.
type ContainerPool struct {
	containers chan ContainerInfo
	poolSize   int
	created    bool
	once       sync.Once
	mu         sync.RWMutex
}

var (
	globalPool *ContainerPool
	poolOnce   sync.Once
)

// GetContainerPool returns the process-wide container pool.
func GetContainerPool() *ContainerPool {
	poolOnce.Do(func() {
		// Sized for four parallel tests plus slack.
		globalPool = &ContainerPool{
			containers: make(chan ContainerInfo, 6),
			poolSize:   6,
		}
	})
	return globalPool
}

// InitializePool starts the pool's containers. Safe to call from several
// tests; only the first call does the work.
func (p *ContainerPool) InitializePool(t *testing.T) error {
	var initErr error

	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.created {
			return
		}

		var wg sync.WaitGroup
		errs := make([]error, p.poolSize)

		for i := 0; i < p.poolSize; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()

				container, broker, err := p.createContainer(t, id)
				if err != nil {
					errs[id] = err
					return
				}

				select {
				case p.containers <- ContainerInfo{
					Container: container,
					Broker:    broker,
					ID:        id,
				}:
				default:
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = container.Terminate(ctx)
					errs[id] = fmt.Errorf("pool full")
				}
			}(i)
		}

		wg.Wait()

		for _, err := range errs {
			if err != nil {
				initErr = err
				break
			}
		}

		if initErr == nil {
			p.created = true
		}
	})

	return initErr
}

// GetContainer borrows a container from the pool, initializing the pool on
// first use.
func (p *ContainerPool) GetContainer(t *testing.T) (ContainerInfo, error) {
	p.mu.RLock()
	if !p.created {
		p.mu.RUnlock()
		if err := p.InitializePool(t); err != nil {
			return ContainerInfo{}, err
		}
		p.mu.RLock()
	}
	p.mu.RUnlock()

	select {
	case container := <-p.containers:
		return container, nil
	case <-time.After(30 * time.Second):
		return ContainerInfo{}, fmt.Errorf("timeout waiting for container from pool")
	}
}

// ReturnContainer gives a borrowed container back to the pool.
func (p *ContainerPool) ReturnContainer(container ContainerInfo) {
	select {
	case p.containers <- container:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Container.Terminate(ctx)
	}
}

// createContainer starts one Redpanda broker. Host port 29092+id keeps the
// pool clear of any dev broker on the default 19092.
func (p *ContainerPool) createContainer(_ *testing.T, id int) (tc.Container, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	port := 29092 + id

	req := tc.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp", "9644/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "256M",
			"--reserve-memory", "0M",
			"--node-id", fmt.Sprintf("%d", id),
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", port),
			"--default-log-level=error",
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(30 * time.Second),
	}

	req.HostConfigModifier = func(hc *containerTypes.HostConfig) {
		if hc.PortBindings == nil {
			hc.PortBindings = nat.PortMap{}
		}
		hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", port)},
		}
	}

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start redpanda container %d: %v", id, err)
	}

	broker := fmt.Sprintf("localhost:%d", port)
	return container, broker, nil
}

// CleanupPool terminates every container still in the pool.
func (p *ContainerPool) CleanupPool() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.created {
		return
	}

	close(p.containers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for container := range p.containers {
		if err := container.Container.Terminate(ctx); err != nil {
			fmt.Printf("Warning: failed to terminate container %d: %v\n", container.ID, err)
		}
	}

	p.created = false
}

// GetPoolStats reports available and total pool slots.
func (p *ContainerPool) GetPoolStats() (available, total int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.created {
		return 0, p.poolSize
	}

	available = len(p.containers)
	return available, p.poolSize
}

// Package leader elects the single replica that runs the Discord consoles.
// Every replica serves the viewer and keeps its own mirrors; only the
// holder of the Kubernetes Lease accepts bids and admin commands.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/auction-console/internal/config"
)

// Identity names this replica in the Lease: POD_NAME, then the hostname.
func Identity() string {
	if pod := os.Getenv("POD_NAME"); pod != "" {
		return pod
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "auctiond"
}

// Option configures an Elector.
type Option func(*Elector)

// WithIdentity overrides the Lease holder identity.
func WithIdentity(id string) Option {
	return func(e *Elector) { e.id = id }
}

// WithClient uses client instead of the in-cluster configuration.
func WithClient(client kubernetes.Interface) Option {
	return func(e *Elector) {
		e.client = func() (kubernetes.Interface, error) { return client, nil }
	}
}

// Elector campaigns for the console Lease.
type Elector struct {
	cfg     config.LeaderElectionConfig
	id      string
	logger  *slog.Logger
	client  func() (kubernetes.Interface, error)
	leading atomic.Bool
}

// New creates an Elector. Nothing is contacted until Run.
func New(cfg config.LeaderElectionConfig, logger *slog.Logger, opts ...Option) *Elector {
	e := &Elector{
		cfg:    cfg,
		id:     Identity(),
		logger: logger,
		client: inCluster,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("identity", e.id))
	return e
}

func inCluster() (kubernetes.Interface, error) {
	rc, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Identity returns the holder identity this Elector campaigns with.
func (e *Elector) Identity() string { return e.id }

// Leading reports whether this replica currently runs the consoles.
func (e *Elector) Leading() bool { return e.leading.Load() }

// Run blocks until ctx is done or leadership ends. lead is called once this
// replica holds the Lease and must return when its ctx is cancelled; lost
// runs after lead returns. With election disabled the replica leads alone.
func (e *Elector) Run(ctx context.Context, lead func(ctx context.Context), lost func()) error {
	if !e.cfg.Enabled {
		e.logger.Info("leader election disabled, running consoles standalone")
		e.term(ctx, lead, lost)
		return nil
	}

	client, err := e.client()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock: &resourcelock.LeaseLock{
			LeaseMeta:  metav1.ObjectMeta{Name: e.cfg.LeaseName, Namespace: e.cfg.LeaseNamespace},
			Client:     client.CoordinationV1(),
			LockConfig: resourcelock.ResourceLockConfig{Identity: e.id},
		},
		Name:            e.cfg.LeaseName,
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.logger.Info("acquired console lease", slog.String("lease", e.cfg.LeaseName))
				e.leading.Store(true)
				lead(ctx)
			},
			OnStoppedLeading: func() {
				e.leading.Store(false)
				e.logger.Info("released console lease", slog.String("lease", e.cfg.LeaseName))
				lost()
			},
			OnNewLeader: func(holder string) {
				if holder != e.id {
					e.logger.Info("consoles running elsewhere", slog.String("leader", holder))
				}
			},
		},
	})
	if err != nil {
		// LeaseDuration > RenewDeadline > RetryPeriod is enforced here.
		return fmt.Errorf("configuring leader election: %w", err)
	}

	e.logger.Info("campaigning for console lease",
		slog.String("lease", e.cfg.LeaseName),
		slog.String("namespace", e.cfg.LeaseNamespace),
	)
	le.Run(ctx)
	return nil
}

func (e *Elector) term(ctx context.Context, lead func(context.Context), lost func()) {
	e.leading.Store(true)
	lead(ctx)
	e.leading.Store(false)
	lost()
}

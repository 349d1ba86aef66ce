// Package app assembles the trading pipelines from configuration and runs
// them until shutdown.
package app

import (
	"context"
	"sync"

	"github.com/nmoreira/weatheredge/internal/executor"
	"github.com/nmoreira/weatheredge/internal/forecast"
	"github.com/nmoreira/weatheredge/internal/gwin"
	"github.com/nmoreira/weatheredge/internal/monitor"
	"github.com/nmoreira/weatheredge/internal/notify"
	"github.com/nmoreira/weatheredge/internal/observer"
	"github.com/nmoreira/weatheredge/internal/registry"
	"github.com/nmoreira/weatheredge/internal/resolver"
	"github.com/nmoreira/weatheredge/internal/scanner"
	"github.com/nmoreira/weatheredge/internal/storage"
	"github.com/nmoreira/weatheredge/internal/venue"
	"github.com/nmoreira/weatheredge/pkg/config"
	"github.com/nmoreira/weatheredge/pkg/healthprobe"
	"github.com/nmoreira/weatheredge/pkg/httpserver"
	"github.com/nmoreira/weatheredge/pkg/schedule"
	"github.com/nmoreira/weatheredge/pkg/wsfeed"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	registry      *registry.Registry
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	store         *storage.Postgres
	markets       *venue.Adapter
	alerts        *notify.Notifier
	forecasts     *forecast.Engine
	peaks         *forecast.PeakHourEstimator
	bankroll      *executor.Bankroll
	executor      *executor.Executor
	scanner       *scanner.Scanner
	observer      *observer.Observer
	gw            *gwin.Scanner
	monitor       *monitor.Monitor
	resolver      *resolver.Resolver
	feed          *wsfeed.Feed // nil unless the websocket feed is enabled
	loops         []*schedule.Loop
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

package handlers

import (
	"time"

	"convert-web/internal/assetcache"
	"convert-web/internal/bridge"
	"convert-web/internal/database"
	"convert-web/internal/preferences"
	"convert-web/internal/startup"
	"convert-web/internal/zipstream"
)

// Handlers holds the collaborators every route needs.
type Handlers struct {
	db       *database.Database
	registry *zipstream.Registry
	worker   *bridge.Worker
	hub      *bridge.Hub
	assets   *assetcache.Manager
	prefs    *preferences.Store

	marker        string
	pingPath      string
	archivePrefix string
	idleTimeout   time.Duration
	started       time.Time
	now           func() time.Time
}

// Deps bundles the long-lived components built in main.
type Deps struct {
	DB       *database.Database
	Registry *zipstream.Registry
	Worker   *bridge.Worker
	Hub      *bridge.Hub
	Assets   *assetcache.Manager
	Prefs    *preferences.Store
}

func New(deps Deps, config *startup.Config) *Handlers {
	h := &Handlers{
		db:            deps.DB,
		registry:      deps.Registry,
		worker:        deps.Worker,
		hub:           deps.Hub,
		assets:        deps.Assets,
		prefs:         deps.Prefs,
		marker:        config.DownloadMarker,
		pingPath:      config.PingPath,
		archivePrefix: config.ArchivePrefix,
		idleTimeout:   config.DownloadIdleTimeout,
		started:       time.Now(),
		now:           time.Now,
	}
	if h.marker == "" {
		h.marker = startup.DefaultDownloadMarker
	}
	if h.pingPath == "" {
		h.pingPath = startup.DefaultPingPath
	}
	if h.archivePrefix == "" {
		h.archivePrefix = startup.DefaultArchivePrefix
	}
	return h
}

package events

import (
	"context"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/hub"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/config"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

const (
	DefaultStatsDebounce = 250 * time.Millisecond
	DefaultMirrorBuffer  = 1024
)

// Registry is the subset of the connection hub the router sends through.
type Registry interface {
	Send(audience hub.Audience, event string, payload any) int
	Stats() hub.Stats
}

// PresenceCounter reports module counts for the stats event.
type PresenceCounter interface {
	Counts() (online, known int)
}

// Options configures a Router. MQTT and Influx are optional mirrors.
type Options struct {
	StatsDebounce time.Duration
	MirrorBuffer  int
	MQTT          MQTTPublisher
	Influx        TelemetryWriter
}

// OptionsFromConfig converts the events section of the config file.
func OptionsFromConfig(cfg config.EventsConfig) Options {
	return Options{
		StatsDebounce: time.Duration(cfg.StatsDebounceMS) * time.Millisecond,
		MirrorBuffer:  cfg.MirrorBuffer,
	}
}

// Router decides who hears about what.
type Router struct {
	hub      Registry
	presence PresenceCounter
	logger   *logging.Logger
	stats    *debouncer
	mirror   *mirror
}

// New creates a router. The mirror goroutine only exists when at least one
// of opts.MQTT and opts.Influx is set.
func New(registry Registry, counter PresenceCounter, opts Options, logger *logging.Logger) *Router {
	if opts.StatsDebounce <= 0 {
		opts.StatsDebounce = DefaultStatsDebounce
	}
	if opts.MirrorBuffer <= 0 {
		opts.MirrorBuffer = DefaultMirrorBuffer
	}

	r := &Router{
		hub:      registry,
		presence: counter,
		logger:   logger,
	}
	r.stats = newDebouncer(opts.StatsDebounce, r.publishStats)
	if opts.MQTT != nil || opts.Influx != nil {
		r.mirror = newMirror(opts.MirrorBuffer, opts.MQTT, opts.Influx, logger)
	}
	return r
}

// Run drains the mirror queue until ctx is cancelled, then stops the
// stats timer.
func (r *Router) Run(ctx context.Context) {
	if r.mirror != nil {
		r.mirror.run(ctx)
	} else {
		<-ctx.Done()
	}
	r.stats.stop()
}

var adminAudience = hub.Audience{{Role: auth.RoleAdmin}}

// presenceAudience is everyone on the modules page, every admin and the owner.
func presenceAudience(owner string) hub.Audience {
	aud := hub.Audience{{Page: PageModules}, {Role: auth.RoleAdmin}}
	if owner != "" {
		aud = append(aud, hub.Selector{UserID: owner})
	}
	return aud
}

// telemetryAudience is the owner while on the modules page, plus every admin.
func telemetryAudience(owner string) hub.Audience {
	aud := hub.Audience{{Role: auth.RoleAdmin}}
	if owner != "" {
		aud = append(aud, hub.Selector{UserID: owner, Page: PageModules})
	}
	return aud
}

func ownerAudience(owner string) hub.Audience {
	aud := hub.Audience{{Role: auth.RoleAdmin}}
	if owner != "" {
		aud = append(aud, hub.Selector{UserID: owner})
	}
	return aud
}

// DeviceOnline implements presence.Notifier.
func (r *Router) DeviceOnline(state presence.DeviceState) {
	r.presenceChanged(EventModuleOnline, state)
}

// DeviceOffline implements presence.Notifier.
func (r *Router) DeviceOffline(state presence.DeviceState) {
	r.presenceChanged(EventModuleOffline, state)
}

func (r *Router) presenceChanged(event string, state presence.DeviceState) {
	r.hub.Send(presenceAudience(state.OwnerUserID), event, state)
	r.enqueue(mirrorEntry{kind: mirrorPresence, state: state})
	r.stats.trigger()
}

// Telemetry implements presence.Notifier.
func (r *Router) Telemetry(state presence.DeviceState, sample map[string]any) {
	r.hub.Send(telemetryAudience(state.OwnerUserID), EventModuleTelemetry, telemetryPayload(state, sample))
	r.enqueue(mirrorEntry{kind: mirrorTelemetry, state: state, data: sample})
}

// CommandAck implements gateway.AckSink.
func (r *Router) CommandAck(deviceID, ownerUserID string, ack map[string]any) {
	r.hub.Send(telemetryAudience(ownerUserID), EventModuleCommandAck, AckPayload{
		DeviceID: deviceID,
		Ack:      ack,
	})
	r.enqueue(mirrorEntry{
		kind:  mirrorAck,
		state: presence.DeviceState{DeviceID: deviceID, OwnerUserID: ownerUserID},
		data:  ack,
	})
}

// ModuleClaimed tells admins and the new owner about a claim.
func (r *Router) ModuleClaimed(p ModulePayload) {
	r.hub.Send(ownerAudience(p.UserID), EventModuleClaimed, p)
}

// ModuleReleased tells admins and the former owner about a release.
func (r *Router) ModuleReleased(p ModulePayload) {
	r.hub.Send(ownerAudience(p.UserID), EventModuleReleased, p)
}

// LoggedIn announces a successful login to admins.
func (r *Router) LoggedIn(p UserPayload) {
	r.hub.Send(adminAudience, EventUserLogin, p)
	r.stats.trigger()
}

// LoggedOut announces a logout to admins.
func (r *Router) LoggedOut(p UserPayload) {
	r.hub.Send(adminAudience, EventUserLogout, p)
	r.stats.trigger()
}

// ProfileChanged announces a profile update to admins.
func (r *Router) ProfileChanged(p UserPayload) {
	r.hub.Send(adminAudience, EventUserProfileChanged, p)
}

// ClientConnected announces a dashboard connection to admins.
func (r *Router) ClientConnected(info hub.Info) {
	r.hub.Send(adminAudience, EventUserConnected, clientPayload(info))
	r.stats.trigger()
}

// ClientDisconnected announces a dashboard disconnection to admins.
func (r *Router) ClientDisconnected(info hub.Info) {
	r.hub.Send(adminAudience, EventUserDisconnected, clientPayload(info))
	r.stats.trigger()
}

func clientPayload(info hub.Info) UserPayload {
	return UserPayload{
		UserID:       info.UserID,
		Role:         string(info.Role),
		ConnectionID: info.ID,
		Page:         info.Page,
	}
}

// Stats computes the current aggregate statistics.
func (r *Router) Stats() StatsSnapshot {
	online, known := r.presence.Counts()
	return StatsSnapshot{
		Clients:        r.hub.Stats(),
		ModulesOnline:  online,
		ModulesOffline: known - online,
		ModulesKnown:   known,
		GeneratedAt:    time.Now().UTC(),
	}
}

func (r *Router) publishStats() {
	snap := r.Stats()
	r.hub.Send(adminAudience, EventStats, snap)
	r.enqueue(mirrorEntry{kind: mirrorStats, stats: snap})
}

func (r *Router) enqueue(e mirrorEntry) {
	if r.mirror != nil {
		r.mirror.enqueue(e)
	}
}

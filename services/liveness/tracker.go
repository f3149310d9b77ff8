package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/db/option"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/pkg/metrics"
	"octopus-controlplane/pkg/repository"

	"github.com/raulk/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrClientNotFound = errors.New("client not found")

type Thresholds struct {
	Online  time.Duration
	Offline time.Duration
}

var DefaultThresholds = Thresholds{Online: 60 * time.Second, Offline: 300 * time.Second}

// Classify derives liveness from the age of the last heartbeat:
// online below Online, idle below Offline, offline otherwise.
func Classify(lastHeartbeat, now time.Time, th Thresholds) Liveness {
	if lastHeartbeat.IsZero() {
		return Offline
	}
	age := now.Sub(lastHeartbeat)
	switch {
	case age < th.Online:
		return Online
	case age < th.Offline:
		return Idle
	default:
		return Offline
	}
}

type Tracker struct {
	db         *gorm.DB
	repo       repository.Repository[Client]
	clock      clock.Clock
	thresholds Thresholds
	metrics    *metrics.Metrics
}

type Params struct {
	fx.In
	DB      *gorm.DB
	Config  *config.Config   `optional:"true"`
	Clock   clock.Clock      `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

func NewTracker(p Params) *Tracker {
	th := DefaultThresholds
	if p.Config != nil {
		if p.Config.Liveness.OnlineThreshold > 0 {
			th.Online = p.Config.Liveness.OnlineThreshold
		}
		if p.Config.Liveness.OfflineThreshold > 0 {
			th.Offline = p.Config.Liveness.OfflineThreshold
		}
	}
	if th.Offline < th.Online {
		zap.L().Warn("[Liveness] offline threshold below online threshold, raising it",
			zap.Duration("online", th.Online), zap.Duration("offline", th.Offline))
		th.Offline = th.Online
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	m := p.Metrics
	if m == nil {
		m = metrics.NewNop()
	}

	return &Tracker{
		db:         p.DB,
		repo:       repository.ProvideStore[Client](p.DB),
		clock:      clk,
		thresholds: th,
		metrics:    m,
	}
}

func (t *Tracker) Thresholds() Thresholds { return t.thresholds }

// RecordHeartbeat registers unknown clients and advances last_heartbeat.
// The stored value only ever grows, so heartbeats may arrive in any order.
// Timestamps ahead of the coordinator clock are clamped to it.
func (t *Tracker) RecordHeartbeat(ctx context.Context, hb Heartbeat) (*View, error) {
	if hb.ClientID == "" {
		return nil, errutil.ValidationFailed("client_id is required", nil)
	}

	now := t.clock.Now().UTC()
	ts := now
	if !hb.Timestamp.IsZero() {
		ts = hb.Timestamp.UTC()
		if ts.After(now) {
			ts = now
		}
	}

	caps, err := json.Marshal(hb.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("encode capabilities: %w", err)
	}
	if hb.Capabilities == nil {
		caps = []byte("[]")
	}

	client := Client{
		ClientID:      hb.ClientID,
		Hostname:      hb.Hostname,
		IPAddress:     hb.IPAddress,
		Platform:      hb.Platform,
		Version:       hb.Version,
		Capabilities:  datatypes.JSON(caps),
		LastHeartbeat: ts,
		AdminStatus:   AdminActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&client)
	if res.Error != nil {
		return nil, fmt.Errorf("register client: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		updates := map[string]any{
			"last_heartbeat": ts,
			"updated_at":     now,
		}
		if hb.Hostname != "" {
			updates["hostname"] = hb.Hostname
		}
		if hb.IPAddress != "" {
			updates["ip_address"] = hb.IPAddress
		}
		if hb.Platform != "" {
			updates["platform"] = hb.Platform
		}
		if hb.Version != "" {
			updates["version"] = hb.Version
		}
		if hb.Capabilities != nil {
			updates["capabilities"] = datatypes.JSON(caps)
		}

		upd := t.db.WithContext(ctx).Model(&Client{}).
			Where("client_id = ? AND last_heartbeat < ?", hb.ClientID, ts).
			Updates(updates)
		if upd.Error != nil {
			return nil, fmt.Errorf("advance heartbeat: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			zap.L().Debug("[Liveness] stale heartbeat ignored",
				zap.String("client_id", hb.ClientID), zap.Time("timestamp", ts))
		}
	} else {
		zap.L().Info("[Liveness] client registered",
			zap.String("client_id", hb.ClientID), zap.String("hostname", hb.Hostname))
	}
	t.metrics.Heartbeats.Inc()

	return t.Get(ctx, hb.ClientID, now)
}

func (t *Tracker) Get(ctx context.Context, clientID string, now time.Time) (*View, error) {
	c, err := t.repo.FindOne(ctx, &Client{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("client not found", ErrClientNotFound)
	}
	return &View{Client: *c, Liveness: Classify(c.LastHeartbeat, now, t.thresholds)}, nil
}

// Classify returns the liveness of clientID at now. Unknown clients are
// offline.
func (t *Tracker) Classify(ctx context.Context, clientID string, now time.Time) (Liveness, error) {
	v, err := t.Get(ctx, clientID, now)
	if errors.Is(err, ErrClientNotFound) {
		return Offline, nil
	}
	if err != nil {
		return "", err
	}
	return v.Liveness, nil
}

func (t *Tracker) List(ctx context.Context, now time.Time) ([]View, error) {
	clients, err := t.repo.Find(ctx, nil, option.WithSortBy(option.QuerySortBy{SortBy: "client_id", OrderBy: "asc"}))
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(clients))
	for _, c := range clients {
		views = append(views, View{Client: *c, Liveness: Classify(c.LastHeartbeat, now, t.thresholds)})
	}
	return views, nil
}

// Online returns administratively active clients whose heartbeat is younger
// than the online threshold. It is the only eligibility gate for new
// assignments.
func (t *Tracker) Online(ctx context.Context, now time.Time) ([]Client, error) {
	cutoff := now.Add(-t.thresholds.Online)
	clients, err := t.repo.Find(ctx, &Client{AdminStatus: AdminActive},
		option.ApplyOperator(option.Condition{Field: "last_heartbeat", Operator: option.GT, Value: cutoff}),
		option.WithSortBy(option.QuerySortBy{SortBy: "client_id", OrderBy: "asc"}),
	)
	if err != nil {
		return nil, err
	}

	out := make([]Client, 0, len(clients))
	for _, c := range clients {
		// re-check in Go; the SQL filter only narrows the scan
		if Classify(c.LastHeartbeat, now, t.thresholds) == Online {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (t *Tracker) SetAdminStatus(ctx context.Context, clientID string, status AdminStatus) (*View, error) {
	if !status.Valid() {
		return nil, errutil.ValidationFailed(fmt.Sprintf("unknown administrative status %q", status), nil)
	}

	now := t.clock.Now().UTC()
	err := t.repo.Update(ctx, clientID, map[string]any{
		"administrative_status": status,
		"updated_at":            now,
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("client not found", ErrClientNotFound)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Liveness] administrative status changed",
		zap.String("client_id", clientID), zap.String("status", string(status)))
	return t.Get(ctx, clientID, now)
}

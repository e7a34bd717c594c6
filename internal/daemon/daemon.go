package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"vdl2_feed/internal/api"
	"vdl2_feed/internal/bridge"
	"vdl2_feed/internal/config"
	"vdl2_feed/internal/database"
	"vdl2_feed/internal/enrich"
	"vdl2_feed/internal/fanout"
	"vdl2_feed/internal/ingest"
	"vdl2_feed/internal/rotlog"
	"vdl2_feed/internal/scheduler"
	"vdl2_feed/internal/stats"
	"vdl2_feed/internal/tasks"
)

// WebSocketPath is where subscribers connect on the dissemination port
const WebSocketPath = "/ws"

const ledgerPruneInterval = time.Hour

// Daemon owns every long-lived component of the feed
type Daemon struct {
	cfg       *config.Config
	database  *database.DB
	log       *rotlog.Writer
	stats     *stats.Aggregator
	hub       *fanout.Hub
	publisher *fanout.Multi
	ingestor  *ingest.Ingestor
	scheduler *scheduler.Scheduler
	api       *api.Server
}

// New opens the reference database and log directory and wires the pipeline.
// Nothing listens until Run.
func New(cfg *config.Config) (*Daemon, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference database: %w", err)
	}

	logWriter, err := rotlog.New(cfg.LogDir, cfg.LogPrefix, cfg.RetentionDays)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize message log: %w", err)
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		logWriter.Close()
		db.Close()
		return nil, err
	}

	hub := fanout.NewHub()
	publisher := fanout.NewMulti(hub, sinks...)
	ledger := enrich.NewLedger(cfg.LedgerDir)
	enricher := enrich.New(db.Aircraft(), ledger)
	agg := stats.New()
	ingestor := ingest.New(logWriter, enricher, agg, publisher)

	sched := scheduler.New()
	sched.AddTask(tasks.NewLogRotation(logWriter, cfg.RotationInterval))
	sched.AddTask(tasks.NewStatsReport(agg, tasks.Counters{
		Received:    ingestor.Received,
		Dropped:     ingestor.Dropped,
		Unknown:     enricher.UnknownCount,
		Subscribers: hub.Count,
		Skipped:     hub.Skipped,
	}, cfg.StatsLogInterval))
	sched.AddTask(tasks.NewLedgerPrune(ledger, cfg.RetentionDays, ledgerPruneInterval))

	return &Daemon{
		cfg:       cfg,
		database:  db,
		log:       logWriter,
		stats:     agg,
		hub:       hub,
		publisher: publisher,
		ingestor:  ingestor,
		scheduler: sched,
		api:       api.NewServer(agg),
	}, nil
}

func buildSinks(cfg *config.Config) ([]fanout.Sink, error) {
	var sinks []fanout.Sink

	if cfg.MQTT.Enabled() {
		sink, err := bridge.NewMQTTSink(bridge.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start mqtt bridge: %w", err)
		}
		slog.Info("MQTT bridge enabled", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
		sinks = append(sinks, sink)
	}

	if cfg.Kafka.Enabled() {
		sink, err := bridge.NewKafkaSink(bridge.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return nil, fmt.Errorf("failed to start kafka bridge: %w", err)
		}
		slog.Info("Kafka bridge enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

// Run serves until ctx is cancelled or a listener fails, then releases every resource.
// The daemon cannot be restarted after Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("Starting daemon",
		"udp_port", d.cfg.UDPPort,
		"ws_port", d.cfg.WSPort,
		"http_port", d.cfg.HTTPPort,
		"log_dir", d.cfg.LogDir,
	)
	defer d.close()

	wsMux := http.NewServeMux()
	wsMux.Handle(WebSocketPath, d.hub)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.ingestor.ListenAndServe(gctx, listenAddr(d.cfg.UDPPort))
	})
	g.Go(func() error {
		return d.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return api.Serve(gctx, "api", listenAddr(d.cfg.HTTPPort), d.api)
	})
	g.Go(func() error {
		return api.Serve(gctx, "websocket", listenAddr(d.cfg.WSPort), wsMux)
	})
	g.Go(func() error {
		// Hijacked WebSocket connections outlive http.Server.Shutdown
		<-gctx.Done()
		d.hub.Close()
		return nil
	})

	err := g.Wait()
	if err != nil {
		slog.Error("Daemon stopped with error", "error", err)
	}
	return err
}

func (d *Daemon) close() {
	d.publisher.Close()

	if err := d.log.Close(); err != nil {
		slog.Error("Error closing message log", "error", err)
	}

	if err := d.database.Close(); err != nil {
		slog.Error("Error closing database", "error", err)
	}

	slog.Info("Daemon stopped")
}

func listenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

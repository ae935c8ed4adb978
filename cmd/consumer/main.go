package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/dede-rides/internal/ingest"
)

var (
	msgsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total coordination events consumed",
	}, []string{"type"})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	auditInserts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_audit_inserts_total",
		Help: "Total events archived to the audit table",
	})
	auditErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_audit_errors_total",
		Help: "Total audit insert errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, auditInserts, auditErrors)
}

const auditSchema = `CREATE TABLE IF NOT EXISTS ride_event_audit (
	id          BIGSERIAL PRIMARY KEY,
	event_type  TEXT NOT NULL,
	event_id    TEXT NOT NULL DEFAULT '',
	ride_id     TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func main() {
	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-events-consumer"
	}

	// Optional archive: set AUDIT_PG_DSN to persist every event.
	var auditDB *sql.DB
	if dsn := os.Getenv("AUDIT_PG_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("audit db open error: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("audit db ping error: %v", err)
		}
		if _, err := db.Exec(auditSchema); err != nil {
			log.Fatalf("audit schema error: %v", err)
		}
		auditDB = db
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if auditDB != nil {
				if err := auditDB.PingContext(r.Context()); err != nil {
					http.Error(w, "audit db not ready", 503)
					return
				}
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		if auditDB != nil {
			_ = auditDB.Close()
		}
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		var ev ingest.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Type == "" {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}
		msgsConsumed.WithLabelValues(ev.Type).Inc()

		if auditDB == nil {
			continue
		}
		if err := archiveWithRetry(ctx, auditDB, ev, 3, 200*time.Millisecond); err != nil {
			auditErrors.Inc()
			log.Printf("audit insert failed for %s/%s: %v", ev.Type, ev.RideID, err)
			continue
		}
		auditInserts.Inc()
	}
}

// Archiver defines the small subset of DB operations we need for tests
// and production.
type Archiver interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// archiveWithRetry inserts the event with retry/backoff.
func archiveWithRetry(ctx context.Context, db Archiver, ev ingest.Event, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		_, err := db.ExecContext(ctx,
			`INSERT INTO ride_event_audit(event_type, event_id, ride_id, actor, occurred_at) VALUES($1,$2,$3,$4,$5)`,
			ev.Type, ev.EventID, ev.RideID, ev.Actor, ev.At)
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil
}

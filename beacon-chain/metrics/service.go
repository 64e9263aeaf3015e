// Package metrics exposes the simulator's consensus-core health over
// HTTP: a /metrics route backed by the Prometheus default registerer,
// a /healthz route backed by a shared.Registry's aggregated statuses,
// and a /goroutinez route dumping the current stack. Grounded on
// shared/prometheus/service.go, generalized here to also poll a
// blockchain.Blockchain on an interval and update a fixed set of
// chain-health gauges/counters, since nothing else in this simulator
// feeds those metrics on its own.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ethsim/beaconsim/beacon-chain/blockchain"
	"github.com/ethsim/beaconsim/shared/services"
)

var log = logrus.WithField("prefix", "metrics")

var (
	headSlot = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beaconsim_head_slot",
		Help: "Slot number of the current GHOST head block.",
	})
	headHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beaconsim_head_height",
		Help: "Height of the current GHOST head block.",
	})
	justifiedEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beaconsim_justified_epoch",
		Help: "Most recent justified checkpoint epoch.",
	})
	finalizedEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beaconsim_finalized_epoch",
		Help: "Most recent finalized checkpoint epoch.",
	})
	forkCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beaconsim_fork_count",
		Help: "Number of forks in the block tree (leaves minus one).",
	})
	totalBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beaconsim_total_blocks",
		Help: "Total number of blocks held in the block tree.",
	})
	headMoves = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beaconsim_head_moves_total",
		Help: "Number of times the GHOST head has changed to a different block.",
	})
)

func init() {
	prometheus.MustRegister(headSlot, headHeight, justifiedEpoch, finalizedEpoch, forkCount, totalBlocks, headMoves)
}

// Handler represents an additional path/handler pair served on the
// same port as /metrics, /healthz, and /goroutinez.
type Handler struct {
	Path    string
	Handler func(http.ResponseWriter, *http.Request)
}

// Service serves Prometheus metrics and a health endpoint, and polls a
// Blockchain on an interval to keep the chain-health gauges current.
type Service struct {
	server      *http.Server
	svcRegistry *services.Registry
	chain       *blockchain.Blockchain
	pollEvery   time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	lastHead   [32]byte
	failStatus error
}

// New sets up a Service listening on addr ("host:port"; an empty host
// matches any interface), polling chain's ChainInfo every pollEvery to
// update the exported gauges.
func New(addr string, svcRegistry *services.Registry, chain *blockchain.Blockchain, pollEvery time.Duration, additionalHandlers ...Handler) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		svcRegistry: svcRegistry,
		chain:       chain,
		pollEvery:   pollEvery,
		ctx:         ctx,
		cancel:      cancel,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)
	for _, h := range additionalHandlers {
		mux.HandleFunc(h.Path, h.Handler)
	}
	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := s.svcRegistry.Statuses()
	hasError := false
	var buf bytes.Buffer
	for k, v := range statuses {
		status := "OK"
		if v != nil {
			hasError = true
			status = "ERROR " + v.Error()
		}
		if _, err := buf.WriteString(fmt.Sprintf("%s: %s\n", k, status)); err != nil {
			hasError = true
		}
	}
	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
		log.WithField("statuses", buf.String()).Warn("Node is unhealthy!")
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("Could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	if _, err := w.Write(debug.Stack()); err != nil {
		log.WithError(err).Error("Failed to write goroutines stack")
	}
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		log.WithError(err).Error("Failed to write pprof goroutines")
	}
}

// Start launches the HTTP server and the chain-health polling loop.
func (s *Service) Start() {
	go func() {
		addrParts := strings.Split(s.server.Addr, ":")
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%s", addrParts[len(addrParts)-1]), time.Second)
		if err == nil {
			if cerr := conn.Close(); cerr != nil {
				log.WithError(cerr).Error("Failed to close connection")
			}
			log.WithField("address", s.server.Addr).Warn("Port already in use; cannot start metrics service")
			return
		}
		log.WithField("address", s.server.Addr).Debug("Starting metrics service")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server stopped unexpectedly")
			s.failStatus = err
		}
	}()
	go s.pollLoop()
}

func (s *Service) pollLoop() {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Service) sample() {
	info := s.chain.ChainInfo()
	if info.HeadHash != s.lastHead {
		headMoves.Inc()
		s.lastHead = info.HeadHash
	}
	headSlot.Set(float64(info.HeadSlot))
	headHeight.Set(float64(info.HeadHeight))
	justifiedEpoch.Set(float64(info.JustifiedCheckpoint.Epoch))
	finalizedEpoch.Set(float64(info.FinalizedCheckpoint.Epoch))
	forkCount.Set(float64(info.Forks))
	totalBlocks.Set(float64(info.TotalBlocks))
}

// Stop shuts the HTTP server down gracefully and halts polling.
func (s *Service) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports the last server-level failure, if any.
func (s *Service) Status() error {
	return s.failStatus
}

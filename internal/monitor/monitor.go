// Package monitor periodically writes the simulator's status to a file.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HubStats is the live state of the authoritative session.
type HubStats struct {
	BattleID  string         `json:"battleId"`
	Observers int            `json:"observers"`
	LastSeq   uint64         `json:"lastSeq"`
	Round     int            `json:"round"`
	Alive     map[string]int `json:"alive"`
}

// StatsSource reports hub stats.
type StatsSource interface {
	Stats() HubStats
}

// QueueSource reports queue lengths by name.
type QueueSource interface {
	QueueLengths() map[string]int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Hub StatsSource
	// Queues are merged into one map; later sources win on equal names.
	Queues []QueueSource
	// Metrics returns current OTel sums keyed by instrument name.
	Metrics func() map[string]float64
	// Publish receives every snapshot, e.g. to store it in InfluxDB.
	Publish    func(Status) error
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one snapshot written to the status file.
type Status struct {
	Time    time.Time          `json:"time"`
	Hub     HubStats           `json:"hub"`
	Queues  map[string]int     `json:"queues,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	logger    *slog.Logger
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:   deps,
		logger: logger.With("component", "monitor"),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current program status
func (s *Service) GetProgramStatus() Status {
	status := Status{Time: time.Now()}
	if s.deps.Hub != nil {
		status.Hub = s.deps.Hub.Stats()
	}
	for _, q := range s.deps.Queues {
		for name, n := range q.QueueLengths() {
			if status.Queues == nil {
				status.Queues = make(map[string]int)
			}
			status.Queues[name] = n
		}
	}
	if s.deps.Metrics != nil {
		status.Metrics = s.deps.Metrics()
	}
	return status
}

// WriteStatus writes one status snapshot to the status file.
func (s *Service) WriteStatus() error {
	return s.writeFile(s.GetProgramStatus())
}

func (s *Service) writeFile(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.deps.StatusFile)
}

func (s *Service) tick() {
	status := s.GetProgramStatus()
	if s.deps.StatusFile != "" {
		if err := s.writeFile(status); err != nil {
			s.logger.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.Publish != nil {
		if err := s.deps.Publish(status); err != nil {
			s.logger.Warn("Error publishing status", "error", err)
		}
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if s.deps.StatusFile == "" && s.deps.Publish == nil {
		return fmt.Errorf("no status file or publisher configured")
	}
	if s.deps.StatusFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.deps.StatusFile), 0755); err != nil {
			return fmt.Errorf("create status dir: %w", err)
		}
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopChan, s.done)
	return nil
}

func (s *Service) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	s.logger.Debug("Starting status monitor", "file", s.deps.StatusFile, "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		s.tick()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop stops the status monitor and waits for its last write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}

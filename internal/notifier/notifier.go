package notifier

import (
	"log/slog"
	"sync"
	"time"

	"kpi-registry/internal/config"
	"kpi-registry/internal/models"
	"kpi-registry/internal/repository"
)

// Event describes an approval-state change. Events are published when a
// reviewer decides and when the poll observes outstanding work.
type Event struct {
	Type          string    `json:"type"`
	VersionID     uint      `json:"version_id,omitempty"`
	KPIID         uint      `json:"kpi_id,omitempty"`
	VersionNumber int       `json:"version_number,omitempty"`
	Status        string    `json:"status,omitempty"`
	ReviewerID    uint      `json:"reviewer_id,omitempty"`
	PendingCount  int       `json:"pending_count,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Event types
const (
	EventVersionDecided = "version_decided"
	EventPendingWork    = "pending_work"
)

// Notifier periodically polls for outstanding approvals and fans events
// out to subscribers. Polling is the delivery mechanism; the subscriber
// channel exists so a push surface can attach later.
type Notifier struct {
	approvalRepo *repository.ApprovalRepository
	interval     time.Duration
	stopChan     chan struct{}

	mu          sync.Mutex
	subscribers []chan Event
}

// New creates a new notifier
func New(approvalRepo *repository.ApprovalRepository, cfg *config.NotifierConfig) *Notifier {
	return &Notifier{
		approvalRepo: approvalRepo,
		interval:     cfg.PollInterval,
		stopChan:     make(chan struct{}),
	}
}

// Start launches the poll loop
func (n *Notifier) Start() {
	slog.Info("Starting approval notifier", "interval", n.interval)
	go n.pollLoop()
}

// Stop stops the poll loop
func (n *Notifier) Stop() {
	slog.Info("Stopping approval notifier")
	close(n.stopChan)
}

// Subscribe returns a channel receiving approval events. Slow subscribers
// drop events instead of blocking the poller.
func (n *Notifier) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	n.mu.Lock()
	n.subscribers = append(n.subscribers, ch)
	n.mu.Unlock()
	return ch
}

// NotifyDecision publishes a reviewer decision on a version
func (n *Notifier) NotifyDecision(version *models.KPIVersion, reviewerID uint) {
	n.publish(Event{
		Type:          EventVersionDecided,
		VersionID:     version.ID,
		KPIID:         version.KPIID,
		VersionNumber: version.VersionNumber,
		Status:        version.Status,
		ReviewerID:    reviewerID,
		OccurredAt:    time.Now(),
	})
}

func (n *Notifier) pollLoop() {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	// Run immediately on start
	n.poll()

	for {
		select {
		case <-ticker.C:
			n.poll()
		case <-n.stopChan:
			return
		}
	}
}

func (n *Notifier) poll() {
	counts, err := n.approvalRepo.CountPendingByReviewer()
	if err != nil {
		slog.Error("Approval poll failed", "error", err)
		return
	}

	for reviewerID, count := range counts {
		slog.Info("Pending approvals outstanding", "reviewer_id", reviewerID, "count", count)
		n.publish(Event{
			Type:         EventPendingWork,
			ReviewerID:   reviewerID,
			PendingCount: count,
			OccurredAt:   time.Now(),
		})
	}
}

func (n *Notifier) publish(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

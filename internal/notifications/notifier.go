package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"idlefarm/internal/cardfarm"
	"idlefarm/internal/config"
	"idlefarm/internal/logging"
	"idlefarm/internal/orchestrator"
)

const userAgent = "idlefarm/0.1"

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Notifier sends run lifecycle notifications.
type Notifier struct {
	endpoint   string
	client     *http.Client
	logger     *slog.Logger
	runStarted bool
	cardDrops  bool

	// Recorder calls arrive on one goroutine.
	modes map[string]orchestrator.Mode
}

// NewNotifier returns nil when notifications.ntfy_topic is empty.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	if cfg == nil {
		return nil
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "notifications"),
		runStarted: cfg.Notifications.RunStarted,
		cardDrops:  cfg.Notifications.CardDrops,
		modes:      make(map[string]orchestrator.Mode),
	}
}

// RunStarted remembers the run's mode and optionally announces it.
func (n *Notifier) RunStarted(ctx context.Context, run orchestrator.Run) error {
	n.modes[run.ID] = run.Mode
	if !n.runStarted {
		return nil
	}
	message := fmt.Sprintf("Started %s", modeLabel(run.Mode))
	if detail := strings.TrimSpace(run.Detail); detail != "" {
		message += ": " + detail
	}
	n.deliver(ctx, payload{
		title:   "idlefarm - Farm Started",
		message: message,
		tags:    []string{"idlefarm", string(run.Mode), "started"},
	})
	return nil
}

// RunEnded announces the end of a run. Replacements are skipped since the
// next run's start follows immediately.
func (n *Notifier) RunEnded(ctx context.Context, runID string, _ time.Time, reason orchestrator.StopReason) error {
	mode, ok := n.modes[runID]
	delete(n.modes, runID)
	if reason == orchestrator.ReasonReplaced || reason == orchestrator.ReasonShutdown {
		return nil
	}
	label := "farm"
	if ok {
		label = modeLabel(mode)
	}

	data := payload{
		title:   "idlefarm - Farm Finished",
		message: fmt.Sprintf("%s ended: %s", capitalize(label), reasonText(reason)),
		tags:    []string{"idlefarm", "completed"},
	}
	switch reason {
	case orchestrator.ReasonDiscoveryFailed, orchestrator.ReasonSpawnFailed:
		data.title = "idlefarm - Farm Failed"
		data.tags = []string{"idlefarm", "error", "alert"}
		data.priority = "high"
	case orchestrator.ReasonQueueDrained:
		data.priority = "high"
	}
	n.deliver(ctx, data)
	return nil
}

// CardCompleted announces a game that has no card drops left.
func (n *Notifier) CardCompleted(ctx context.Context, _ string, item cardfarm.Item, _ time.Time) error {
	if !n.cardDrops {
		return nil
	}
	message := fmt.Sprintf("All card drops received for %s", item.DisplayName())
	if item.AccumulatedTime > 0 {
		message += fmt.Sprintf(" after %s", item.AccumulatedTime.Round(time.Minute))
	}
	n.deliver(ctx, payload{
		title:   "idlefarm - Cards Complete",
		message: message,
		tags:    []string{"idlefarm", "cards", "completed"},
	})
	return nil
}

// Test sends a low-priority message to verify the topic.
func (n *Notifier) Test(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "idlefarm - Test",
		message:  "Notification test",
		tags:     []string{"idlefarm", "test"},
		priority: "low",
	})
}

func (n *Notifier) deliver(ctx context.Context, data payload) {
	if err := n.send(ctx, data); err != nil {
		logging.WarnWithContext(n.logger, "notification not delivered", "notify_failed",
			logging.Error(err),
			logging.String("title", data.title),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "farm continues without this notification"),
		)
	}
}

func (n *Notifier) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func modeLabel(mode orchestrator.Mode) string {
	switch mode {
	case orchestrator.ModeSessionFarm:
		return "session farm"
	case orchestrator.ModeAchievementFarm:
		return "achievement farm"
	case orchestrator.ModeCardFarm:
		return "card farm"
	default:
		return "farm"
	}
}

func reasonText(reason orchestrator.StopReason) string {
	switch reason {
	case orchestrator.ReasonRequested:
		return "stopped on request"
	case orchestrator.ReasonDurationElapsed:
		return "duration elapsed"
	case orchestrator.ReasonScheduleComplete:
		return "every scheduled unlock fired"
	case orchestrator.ReasonQueueDrained:
		return "every game finished dropping cards"
	case orchestrator.ReasonQueueEmpty:
		return "no games with card drops remaining"
	case orchestrator.ReasonNoEvents:
		return "nothing to unlock"
	case orchestrator.ReasonDiscoveryFailed:
		return "card discovery failed"
	case orchestrator.ReasonSpawnFailed:
		return "worker failed to start"
	default:
		return strings.ReplaceAll(string(reason), "_", " ")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-levelmeter/internal/config"
	"github.com/oszuidwest/zwfm-levelmeter/internal/types"
	"github.com/oszuidwest/zwfm-levelmeter/internal/util"
)

// Notifier delivers episode notifications to every configured channel.
// Each channel is notified at most once per episode, and a recovery is only
// sent on channels that received the matching alert.
type Notifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	webhookSent bool
	emailSent   bool
	logSent     bool
	zabbixSent  bool

	mailer *graphMailer

	// wg tracks in-flight deliveries.
	wg sync.WaitGroup
}

// NewNotifier returns a Notifier that reads channel settings from cfg.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// InvalidateMailer drops the cached mailer so the next alert picks up
// changed e-mail settings.
func (n *Notifier) InvalidateMailer() {
	n.mu.Lock()
	n.mailer = nil
	n.mu.Unlock()
}

func (n *Notifier) graphMailer(cfg *types.GraphConfig) (*graphMailer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.mailer == nil {
		m, err := newGraphMailer(cfg)
		if err != nil {
			return nil, err
		}
		n.mailer = m
	}
	return n.mailer, nil
}

// HandleEvent triggers notifications for detector transitions.
//
//nolint:gocritic // hugeParam: Event is passed by value from the monitor loop
func (n *Notifier) HandleEvent(ev Event) {
	if ev.JustEntered {
		n.handleStart(ev.LevelDB, ev.TargetDB, ev.DurationMs)
	}
	if ev.JustRecovered {
		n.handleEnd(ev.TotalDurationMs, ev.LevelDB, ev.TargetDB)
	}
}

func (n *Notifier) handleStart(levelDB, targetDB float64, durationMs int64) {
	cfg := n.cfg.Snapshot()

	n.trySend(&n.webhookSent, cfg.HasWebhook(), "Level webhook", func() error {
		return SendLevelHighWebhook(cfg.WebhookURL, cfg.StationName, levelDB, targetDB, durationMs)
	})
	n.trySend(&n.emailSent, cfg.HasGraph(), "Level email", func() error {
		subject, body := levelHighEmail(cfg.StationName, levelDB, targetDB, durationMs)
		return n.sendEmail(&cfg.Graph, subject, body)
	})
	n.trySend(&n.logSent, cfg.HasLogPath(), "Level log", func() error {
		return LogLevelHigh(cfg.LogPath, levelDB, targetDB)
	})
	n.trySend(&n.zabbixSent, cfg.HasZabbix(), "Level zabbix", func() error {
		return SendLevelHighZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey, levelDB, targetDB)
	})
}

// trySend delivers in the background if condition holds and the channel has
// not been notified in this episode.
func (n *Notifier) trySend(sent *bool, condition bool, name string, send func() error) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		n.wg.Go(func() { util.LogNotifyResult(send, name) })
	}
}

func (n *Notifier) handleEnd(durationMs int64, levelDB, targetDB float64) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	webhook, email, logFile, zabbix := n.webhookSent, n.emailSent, n.logSent, n.zabbixSent
	n.webhookSent, n.emailSent, n.logSent, n.zabbixSent = false, false, false, false
	n.mu.Unlock()

	if webhook {
		n.wg.Go(func() {
			util.LogNotifyResult(func() error {
				return SendRecoveryWebhook(cfg.WebhookURL, cfg.StationName, durationMs, levelDB, targetDB)
			}, "Recovery webhook")
		})
	}
	if email {
		n.wg.Go(func() {
			util.LogNotifyResult(func() error {
				subject, body := recoveryEmail(cfg.StationName, durationMs, levelDB, targetDB)
				return n.sendEmail(&cfg.Graph, subject, body)
			}, "Recovery email")
		})
	}
	if logFile {
		n.wg.Go(func() {
			util.LogNotifyResult(func() error {
				return LogRecovery(cfg.LogPath, durationMs, levelDB, targetDB)
			}, "Recovery log")
		})
	}
	if zabbix {
		n.wg.Go(func() {
			util.LogNotifyResult(func() error {
				return SendRecoveryZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey, durationMs, levelDB, targetDB)
			}, "Recovery zabbix")
		})
	}
}

// sendEmail sends through the cached Graph client.
func (n *Notifier) sendEmail(cfg *types.GraphConfig, subject, body string) error {
	if !mailReady(cfg) {
		return nil
	}

	client, err := n.graphMailer(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	ctx, cancel := context.WithTimeout(context.Background(), mailDeadline)
	defer cancel()
	if err := client.Send(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// Reset clears the per-episode state without sending recoveries.
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.webhookSent = false
	n.emailSent = false
	n.logSent = false
	n.zabbixSent = false
	n.mu.Unlock()
}

// Wait blocks until all in-flight deliveries have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"bar-crm/pkg/telegram"
	tplfs "bar-crm/templates"
)

type AlertKind string

const (
	AlertCorruptedData               AlertKind = "corrupted_data"
	AlertRecalculationBlocked        AlertKind = "recalculation_blocked"
	AlertRecalculationReconciliation AlertKind = "recalculation_reconciliation"
	AlertRecalculationFailed         AlertKind = "recalculation_failed"
	AlertPanicRecovered              AlertKind = "panic_recovered"
)

var alertTemplateFiles = map[AlertKind]string{
	AlertCorruptedData:               "alerts/corrupted_data.tmpl",
	AlertRecalculationBlocked:        "alerts/recalculation_blocked.tmpl",
	AlertRecalculationReconciliation: "alerts/recalculation_reconciliation.tmpl",
	AlertRecalculationFailed:         "alerts/recalculation_failed.tmpl",
	AlertPanicRecovered:              "alerts/panic_recovered.tmpl",
}

// Alerter notifies administrators. Implementations must not block the caller
// on delivery.
type Alerter interface {
	Notify(ctx context.Context, kind AlertKind, vars map[string]string) error
}

// MessageSender is satisfied by *telegram.BotClient.
type MessageSender interface {
	SendMarkdown(ctx context.Context, chatID int64, md string) error
}

type AlertService struct {
	sender      MessageSender
	chatIDs     []int64
	logger      *zap.Logger
	retryDelays []time.Duration
	templateMu  sync.RWMutex
	templates   map[AlertKind]*template.Template
	inflight    sync.WaitGroup
}

var _ Alerter = (*AlertService)(nil)

func NewAlertService(sender MessageSender, chatIDs []int64, logger *zap.Logger) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertService{
		sender:      sender,
		chatIDs:     append([]int64(nil), chatIDs...),
		logger:      logger,
		retryDelays: []time.Duration{0, 5 * time.Second, 15 * time.Second, 60 * time.Second},
		templates:   make(map[AlertKind]*template.Template),
	}
}

// Notify renders the alert and sends it to every admin chat in the
// background. Vars are escaped for Markdown before rendering. The alert is always logged, so a missing bot token only loses
// the chat copy.
func (s *AlertService) Notify(_ context.Context, kind AlertKind, vars map[string]string) error {
	text, err := s.render(kind, vars)
	if err != nil {
		return err
	}

	s.logger.Warn("admin alert", zap.String("kind", string(kind)), zap.Any("vars", vars))
	if s.sender == nil {
		return nil
	}

	for _, chatID := range s.chatIDs {
		if chatID == 0 {
			continue
		}
		s.sendAsyncWithRetry(chatID, text, kind)
	}
	return nil
}

// Wait blocks until queued deliveries finish. Used on shutdown.
func (s *AlertService) Wait() {
	s.inflight.Wait()
}

func (s *AlertService) sendAsyncWithRetry(chatID int64, text string, kind AlertKind) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		var sendErr error
		for i, delay := range s.retryDelays {
			if i > 0 {
				time.Sleep(delay)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			sendErr = s.sender.SendMarkdown(ctx, chatID, text)
			cancel()
			if sendErr == nil {
				return
			}
		}

		s.logger.Error("send admin alert failed",
			zap.Int64("chat_id", chatID),
			zap.String("kind", string(kind)),
			zap.Error(sendErr),
		)
	}()
}

func (s *AlertService) render(kind AlertKind, vars map[string]string) (string, error) {
	tpl, err := s.loadTemplate(kind)
	if err != nil {
		return "", err
	}

	escaped := make(map[string]string, len(vars))
	for k, v := range vars {
		escaped[k] = telegram.EscapeMarkdown(v)
	}

	buf := bytes.NewBuffer(nil)
	if err := tpl.Execute(buf, escaped); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *AlertService) loadTemplate(kind AlertKind) (*template.Template, error) {
	s.templateMu.RLock()
	if tpl, ok := s.templates[kind]; ok {
		s.templateMu.RUnlock()
		return tpl, nil
	}
	s.templateMu.RUnlock()

	file, ok := alertTemplateFiles[kind]
	if !ok {
		return nil, fmt.Errorf("alert template not found: %s", kind)
	}

	raw, err := tplfs.AlertTemplateFS.ReadFile(file)
	if err != nil {
		return nil, err
	}

	tpl, err := template.New(file).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, err
	}

	s.templateMu.Lock()
	s.templates[kind] = tpl
	s.templateMu.Unlock()
	return tpl, nil
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return make(map[string]string)
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// notifyQuietly is for call sites that already hold a primary error.
func notifyQuietly(ctx context.Context, alerter Alerter, logger *zap.Logger, kind AlertKind, vars map[string]string) {
	if alerter == nil {
		return
	}
	if err := alerter.Notify(ctx, kind, vars); err != nil {
		logger.Error("render admin alert failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

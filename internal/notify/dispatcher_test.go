package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

type fakeSender struct {
	channel   domain.NotificationChannel
	err       error
	title     string
	message   string
	recipient string
	calls     int
}

func (f *fakeSender) Send(ctx context.Context, title, message, recipient string) error {
	f.calls++
	f.title = title
	f.message = message
	f.recipient = recipient
	return f.err
}

func (f *fakeSender) Channel() domain.NotificationChannel { return f.channel }

func sampleAlert() domain.RiskAlert {
	return domain.RiskAlert{
		ID:             "alert-1",
		Category:       domain.CategoryPositionLimit,
		Severity:       domain.SeverityCritical,
		Title:          "Position limit breached",
		Description:    "exposure 600000.00 exceeds limit 500000.00",
		ThresholdValue: 500_000,
		ObservedValue:  600_000,
		Status:         domain.StatusActive,
		UserID:         "alice",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestDispatcherSendSuccess(t *testing.T) {
	sender := &fakeSender{channel: domain.ChannelSlack}
	d := NewDispatcher([]Sender{sender}, slog.New(slog.DiscardHandler))

	n := d.Send(context.Background(), sampleAlert(), domain.ChannelSlack, "#risk")
	if n.Status != domain.DeliverySent {
		t.Fatalf("status = %s, want sent", n.Status)
	}
	if n.SentAt == nil || n.LastError != "" {
		t.Errorf("notification = %+v, want SentAt set and no error", n)
	}
	if n.AlertID != "alert-1" || n.Channel != domain.ChannelSlack || n.Recipient != "#risk" {
		t.Errorf("notification identity = %+v", n)
	}
	if !strings.HasPrefix(sender.title, "[CRITICAL] ") {
		t.Errorf("title = %q, want severity tag prefix", sender.title)
	}
	if !strings.Contains(sender.message, "User: alice") || !strings.Contains(sender.message, "Alert: alert-1") {
		t.Errorf("message = %q, want user and alert lines", sender.message)
	}
}

func TestDispatcherSendFailure(t *testing.T) {
	sender := &fakeSender{channel: domain.ChannelEmail, err: errors.New("smtp down")}
	d := NewDispatcher([]Sender{sender}, slog.New(slog.DiscardHandler))

	n := d.Send(context.Background(), sampleAlert(), domain.ChannelEmail, "")
	if n.Status != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed", n.Status)
	}
	if n.LastError != "smtp down" {
		t.Errorf("LastError = %q, want smtp down", n.LastError)
	}
	if n.RetryCount != 0 {
		t.Errorf("RetryCount = %d; the dispatcher must not count attempts", n.RetryCount)
	}
}

func TestDispatcherUnknownChannel(t *testing.T) {
	d := NewDispatcher(nil, slog.New(slog.DiscardHandler))

	n := d.Send(context.Background(), sampleAlert(), domain.ChannelSlack, "")
	if n.Status != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed", n.Status)
	}
	if !strings.Contains(n.LastError, "no sender configured") {
		t.Errorf("LastError = %q", n.LastError)
	}
}

func TestDispatcherRetryClearsError(t *testing.T) {
	sender := &fakeSender{channel: domain.ChannelEmail}
	d := NewDispatcher([]Sender{sender}, slog.New(slog.DiscardHandler))

	failed := domain.Notification{
		ID:        "n1",
		AlertID:   "alert-1",
		Channel:   domain.ChannelEmail,
		Status:    domain.DeliveryFailed,
		LastError: "smtp down",
	}
	n := d.Retry(context.Background(), failed, sampleAlert())
	if n.Status != domain.DeliverySent || n.LastError != "" || n.SentAt == nil {
		t.Errorf("retried = %+v, want sent with cleared error", n)
	}
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	e := NewEmailSender(EmailConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "sentinel@example.com",
	})
	e.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := e.Send(context.Background(), "[HIGH] subject", "body text", "ops@example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || gotFrom != "sentinel@example.com" {
		t.Errorf("addr=%q from=%q", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ops@example.com" {
		t.Errorf("to = %v", gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: [HIGH] subject\r\n") || !strings.Contains(msg, "body text") {
		t.Errorf("message = %q", msg)
	}
}

func TestEmailSenderDefaultRecipient(t *testing.T) {
	e := NewEmailSender(EmailConfig{
		Host:      "mail.example.com",
		Port:      25,
		From:      "sentinel@example.com",
		DefaultTo: "fallback@example.com",
	})
	var gotTo []string
	e.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		return nil
	}

	if err := e.Send(context.Background(), "t", "m", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "fallback@example.com" {
		t.Errorf("to = %v, want default recipient", gotTo)
	}

	e.cfg.DefaultTo = ""
	if err := e.Send(context.Background(), "t", "m", ""); err == nil {
		t.Error("Send with no recipient should fail")
	}
}

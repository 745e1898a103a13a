package notifications

import (
	"context"
	"time"
)

// RequestNotifier sends request-lifecycle notifications (started, first
// file, last file, failed) through the configured channel. Email is
// currently the only channel; the single-method-per-event shape leaves
// room for a second channel to be added the same way later.
type RequestNotifier struct {
	email *EmailService
}

// NewRequestNotifier creates a new RequestNotifier. email may be nil if
// no channel is configured, in which case every Send* call is a no-op.
func NewRequestNotifier(email *EmailService) *RequestNotifier {
	return &RequestNotifier{email: email}
}

// SendRequestStarted notifies notifyAddr, if set, that request requestID
// has begun staging. Callers must only invoke this once per request,
// not once per retry.
func (n *RequestNotifier) SendRequestStarted(ctx context.Context, notifyAddr string, requestID int64, label string) {
	if n.email == nil || !n.email.IsEnabled() || notifyAddr == "" {
		return
	}
	_ = n.email.NotifyRequestStartedEmail(ctx, notifyAddr, requestID, label)
}

// SendFirstFileOnDisk notifies notifyAddr, if set, that the first file of
// requestID has landed on disk.
func (n *RequestNotifier) SendFirstFileOnDisk(ctx context.Context, notifyAddr string, requestID int64, path string) {
	if n.email == nil || !n.email.IsEnabled() || notifyAddr == "" {
		return
	}
	_ = n.email.NotifyFirstFileEmail(ctx, notifyAddr, requestID, path)
}

// SendLastFileOnDisk notifies notifyAddr, if set, that requestID has
// completed.
func (n *RequestNotifier) SendLastFileOnDisk(ctx context.Context, notifyAddr string, requestID int64, fileCount int, totalBytes int64, duration time.Duration) {
	if n.email == nil || !n.email.IsEnabled() || notifyAddr == "" {
		return
	}
	_ = n.email.NotifyLastFileEmail(ctx, notifyAddr, requestID, fileCount, totalBytes, duration)
}

// SendRequestFailed notifies notifyAddr, if set, that requestID could not
// make further progress.
func (n *RequestNotifier) SendRequestFailed(ctx context.Context, notifyAddr string, requestID int64, reason string) {
	if n.email == nil || !n.email.IsEnabled() || notifyAddr == "" {
		return
	}
	_ = n.email.NotifyRequestFailedEmail(ctx, notifyAddr, requestID, reason)
}

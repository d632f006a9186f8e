package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "test@example.com"}, nil)
	assert.Nil(t, sender)
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "test@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Salon Concierge", sender.fromName)
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "recipient@example.com", Subject: "Test", Body: "Test body"})
	assert.Error(t, err)
}

func TestSendGridSender_SendPostsMail(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "sg-key", FromEmail: "front@salon.test", Host: srv.URL}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "dana@example.com", ToName: "Dana", Subject: "Booked", Body: "See you"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sg-key", gotAuth)
	assert.Equal(t, "Booked", gotBody["subject"])
}

func TestSendGridSender_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "bad", FromEmail: "front@salon.test", Host: srv.URL}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "dana@example.com", Subject: "x", Body: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestStubEmailSenderKeepsMessages(t *testing.T) {
	stub := NewStubEmailSender(nil)
	require.NoError(t, stub.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "one"}))
	require.Len(t, stub.Sent(), 1)
	assert.Equal(t, "one", stub.Sent()[0].Subject)
}

type failingSender struct{}

func (failingSender) Send(context.Context, EmailMessage) error { return errors.New("smtp down") }

func TestBookingMailer(t *testing.T) {
	stub := NewStubEmailSender(nil)
	m := NewBookingMailer(stub, "Studio Nine", nil)
	notice := BookingNotice{
		BookingID:    "b-123",
		CustomerName: "Dana Park",
		Email:        "dana@example.com",
		ServiceName:  "Classic Haircut",
		StaffName:    "Alice Moreno",
		Date:         "2026-10-15",
		Weekday:      "Thursday",
		Time:         "09:45",
		Price:        "$25",
	}

	require.NoError(t, m.BookingConfirmed(context.Background(), notice))
	require.NoError(t, m.BookingCancelled(context.Background(), notice))

	sent := stub.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Studio Nine: your Classic Haircut is booked", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "When: Thursday 2026-10-15 at 09:45")
	assert.Contains(t, sent[0].Body, "Reference: b-123")
	assert.Contains(t, sent[1].Subject, "cancelled")
}

func TestBookingMailerSkipsAndWraps(t *testing.T) {
	stub := NewStubEmailSender(nil)
	require.NoError(t, NewBookingMailer(stub, "", nil).BookingConfirmed(context.Background(), BookingNotice{BookingID: "b-1"}))
	assert.Empty(t, stub.Sent())

	var nilMailer *BookingMailer
	assert.NoError(t, nilMailer.BookingConfirmed(context.Background(), BookingNotice{Email: "x@example.com"}))

	err := NewBookingMailer(failingSender{}, "", nil).BookingConfirmed(context.Background(), BookingNotice{BookingID: "b-2", Email: "x@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b-2")
}

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-concierge/internal/apperr"
	"github.com/wolfman30/salon-concierge/internal/calendar"
	"github.com/wolfman30/salon-concierge/pkg/logging"
)

func seededRepo(t *testing.T) *InMemoryRepository {
	t.Helper()
	seed, err := LoadSeedFile("")
	require.NoError(t, err)
	repo := NewInMemoryRepository()
	require.NoError(t, seed.Apply(context.Background(), repo))
	return repo
}

func TestParseServiceType(t *testing.T) {
	for _, st := range ServiceTypes {
		parsed, err := ParseServiceType(strings.ToUpper(st.String()))
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
		info, ok := Lookup(st)
		require.True(t, ok)
		assert.NotEmpty(t, info.Keywords)
	}
	_, err := ParseServiceType("pedicure")
	assert.Error(t, err)
	assert.False(t, ServiceType(0).Valid())
}

func TestServiceTypeText(t *testing.T) {
	payload, err := json.Marshal(map[string]ServiceType{"set": Facial, "unset": 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"set":"facial","unset":""}`, string(payload))

	var decoded map[string]ServiceType
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, Facial, decoded["set"])
	assert.Equal(t, ServiceType(0), decoded["unset"])
}

func TestDefaultSeedLoads(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	services, err := repo.ServicesByType(ctx, Haircut)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, []int64{1, 2}, services[0].StaffIDs)

	win, err := repo.Availability(ctx, 1, time.Monday)
	require.NoError(t, err)
	require.NotNil(t, win)
	assert.Equal(t, calendar.NewClock(9, 0), win.Start)

	none, err := repo.Availability(ctx, 1, time.Sunday)
	require.NoError(t, err)
	assert.Nil(t, none)

	customer, err := repo.UpsertCustomer(ctx, CustomerInput{FirstName: "Someone", Email: "DANA@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Dana", customer.FirstName, "existing customer keeps stored name")
}

func TestLoadSeedRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown weekday", `{"staff":[{"id":1}],"availability":[{"staff_id":1,"weekday":"funday","start":"09:00","end":"10:00"}]}`},
		{"unknown staff", `{"staff":[],"availability":[{"staff_id":1,"weekday":"monday","start":"09:00","end":"10:00"}]}`},
		{"inverted window", `{"staff":[{"id":1}],"availability":[{"staff_id":1,"weekday":"monday","start":"10:00","end":"09:00"}]}`},
		{"duplicate window", `{"staff":[{"id":1}],"availability":[{"staff_id":1,"weekday":"monday","start":"09:00","end":"10:00"},{"staff_id":1,"weekday":"mon","start":"11:00","end":"12:00"}]}`},
		{"service without type", `{"staff":[{"id":1}],"services":[{"id":1,"name":"x","staff_ids":[1]}]}`},
		{"service with unknown staff", `{"staff":[{"id":1}],"services":[{"id":1,"service_type":"spa","staff_ids":[2]}]}`},
		{"malformed json", `{"staff":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSeed(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestCustomerInputValidate(t *testing.T) {
	tests := []struct {
		name  string
		input CustomerInput
		ok    bool
	}{
		{"valid", CustomerInput{FirstName: "Ana", Email: "ana@example.com"}, true},
		{"missing name", CustomerInput{Email: "ana@example.com"}, false},
		{"missing email", CustomerInput{FirstName: "Ana"}, false},
		{"display name form", CustomerInput{FirstName: "Ana", Email: "Ana <ana@example.com>"}, false},
		{"no domain dot", CustomerInput{FirstName: "Ana", Email: "ana@localhost"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Normalize().Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestBusinessHours(t *testing.T) {
	h := DefaultBusinessHours()
	assert.True(t, h.IsClosed(time.Sunday))
	assert.False(t, h.IsClosed(time.Saturday))
	assert.Equal(t, "We're open Mon, Tue, Wed, Thu, Fri, Sat, 09:00 to 18:00. Closed Sunday.", h.Describe())
	assert.Equal(t, 45, h.SlotMinutes(Service{DurationMinutes: 45}))
	assert.Equal(t, 30, h.SlotMinutes(Service{}))
}

func TestPriceList(t *testing.T) {
	lines := PriceList([]Service{
		{Type: Spa, PriceCents: 6000},
		{Type: Haircut, PriceCents: 3000},
		{Type: Haircut, PriceCents: 2500},
		{Type: Beard, PriceCents: 1550},
	})
	assert.Equal(t, []string{"Haircut: $25", "Beard: $15.50", "Spa: $60"}, lines)
}

func TestHandlerListServices(t *testing.T) {
	repo := seededRepo(t)
	handler := NewHandler(repo, logging.Default())

	req := httptest.NewRequest(http.MethodGet, "/services", nil)
	w := httptest.NewRecorder()
	handler.ListServices(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Services []struct {
			ID          int64  `json:"id"`
			ServiceType string `json:"service_type"`
			Price       string `json:"price"`
			Staff       []struct {
				Name     string   `json:"name"`
				Weekdays []string `json:"weekdays"`
			} `json:"staff"`
		} `json:"services"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Services, 4)
	assert.Equal(t, "haircut", resp.Services[0].ServiceType)
	assert.Equal(t, "$25", resp.Services[0].Price)
	require.Len(t, resp.Services[0].Staff, 2)
	assert.Equal(t, "Alice Moreno", resp.Services[0].Staff[0].Name)
	assert.Equal(t, []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}, resp.Services[0].Staff[0].Weekdays)
}

func TestExtractServiceType(t *testing.T) {
	tests := []struct {
		text string
		want ServiceType
		ok   bool
	}{
		{"I'd like a haircut tomorrow", Haircut, true},
		{"HAIR CUT please", Haircut, true},
		{"beard trim and a haircut", Beard, true},
		{"book a massage", Spa, true},
		{"facial", Facial, true},
		{"spaghetti", 0, false},
		{"chair", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ExtractServiceType(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

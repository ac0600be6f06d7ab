package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/webhook"
)

// Vehicle is the data block of a Dealerware vehicle event.
type Vehicle struct {
	VIN          string  `json:"vin"`
	Year         int     `json:"year"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	Color        string  `json:"color"`
	LicensePlate string  `json:"licensePlate"`
	Mileage      float64 `json:"mileage"`
	CustomerID   string  `json:"customerId,omitempty"`
	CustomerName string  `json:"customerName,omitempty"`
	DateInfleet  string  `json:"dateInfleet,omitempty"`
}

// Event is a signed Dealerware webhook delivery.
type Event struct {
	ID        string          `json:"id"`
	Resource  string          `json:"resource"`
	State     string          `json:"state"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Signature string          `json:"signature"`
}

const (
	stateInfleet = "Infleet"
	stateDefleet = "Defleet"
)

var catalog = map[string][]string{
	"Honda":   {"Accord", "Civic", "CR-V", "Pilot", "HR-V"},
	"Toyota":  {"Camry", "Corolla", "RAV4", "Highlander"},
	"Ford":    {"Escape", "Explorer", "F-150"},
	"Hyundai": {"Elantra", "Tucson", "Santa Fe"},
}

var colors = []string{"Platinum White", "Crystal Black", "Lunar Silver", "Radiant Red", "Still Night Blue"}

var customers = []string{"Jordan Lee", "Sam Patel", "Alex Kim", "Riley Chen", "Casey Morgan"}

// VIN characters exclude I, O and Q.
const vinAlphabet = "ABCDEFGHJKLMNPRSTUVWXYZ0123456789"

func randomVIN() string {
	b := make([]byte, 17)
	for i := range b {
		b[i] = vinAlphabet[rand.Intn(len(vinAlphabet))]
	}
	return string(b)
}

func randomPlate() string {
	return fmt.Sprintf("%c%c%c%04d", 'A'+rand.Intn(26), 'A'+rand.Intn(26), 'A'+rand.Intn(26), rand.Intn(10000))
}

func randomVehicle(now time.Time) Vehicle {
	makes := make([]string, 0, len(catalog))
	for m := range catalog {
		makes = append(makes, m)
	}
	mk := makes[rand.Intn(len(makes))]
	modelNames := catalog[mk]

	v := Vehicle{
		VIN:          randomVIN(),
		Year:         now.Year() - rand.Intn(2),
		Make:         mk,
		Model:        modelNames[rand.Intn(len(modelNames))],
		Color:        colors[rand.Intn(len(colors))],
		LicensePlate: randomPlate(),
		Mileage:      float64(5 + rand.Intn(500)),
		DateInfleet:  now.UTC().Format("2006-01-02"),
	}
	if rand.Intn(2) == 0 {
		v.CustomerID = uuid.NewString()
		v.CustomerName = customers[rand.Intn(len(customers))]
	}
	return v
}

// buildEvent encodes a signed vehicle event.
func buildEvent(secret, state string, v Vehicle, now time.Time) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vehicle: %w", err)
	}
	sig, err := webhook.Sign(secret, data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign event: %w", err)
	}
	return json.Marshal(Event{
		ID:        uuid.NewString(),
		Resource:  "Vehicle",
		State:     state,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339),
		Signature: sig,
	})
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// sendEvent posts body to the webhook and returns the response status.
func sendEvent(url string, body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp.StatusCode, nil
}

// simulator keeps the vehicles it has in-fleeted so Defleet events name a
// VIN the service knows.
type simulator struct {
	url       string
	secret    string
	fleetSize int
	inFleet   []Vehicle
	now       func() time.Time
}

// step in-fleets a new vehicle until the fleet is full, then defleets a
// random one, so the fleet churns around fleetSize.
func (s *simulator) step() {
	now := s.now()
	if len(s.inFleet) < s.fleetSize {
		v := randomVehicle(now)
		if s.send(stateInfleet, v, now) {
			s.inFleet = append(s.inFleet, v)
		}
		return
	}

	i := rand.Intn(len(s.inFleet))
	v := s.inFleet[i]
	v.Mileage += float64(100 + rand.Intn(3000))
	if s.send(stateDefleet, v, now) {
		s.inFleet = append(s.inFleet[:i], s.inFleet[i+1:]...)
	}
}

func (s *simulator) send(state string, v Vehicle, now time.Time) bool {
	body, err := buildEvent(s.secret, state, v, now)
	if err != nil {
		log.WithError(err).Error("Failed to build event")
		return false
	}
	status, err := sendEvent(s.url, body)
	fields := log.Fields{"state": state, "vin": v.VIN, "status": status}
	if err != nil {
		log.WithError(err).WithFields(fields).Error("Failed to send event")
		return false
	}
	log.WithFields(fields).Info("Sent event")
	return true
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

func main() {
	secret := os.Getenv("DEALERWARE_SECRET")
	if secret == "" {
		log.Fatal("DEALERWARE_SECRET is required to sign events")
	}

	url := os.Getenv("WEBHOOK_URL")
	if url == "" {
		url = "http://localhost:8080" + webhook.DealerwarePath
	}
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 5)) * time.Second

	sim := &simulator{
		url:       url,
		secret:    secret,
		fleetSize: envInt("FLEET_SIZE", 10),
		now:       time.Now,
	}

	log.WithFields(log.Fields{
		"fleet_size":  sim.fleetSize,
		"webhook_url": url,
		"interval":    interval,
	}).Info("Starting Dealerware event simulation")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			sim.step()
		case <-quit:
			log.WithField("in_fleet", len(sim.inFleet)).Info("Simulation stopped")
			return
		}
	}
}

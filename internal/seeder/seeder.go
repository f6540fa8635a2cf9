// Package seeder generates synthetic ingress traffic for local testing and
// demos. It exercises every source channel and sprinkles in risky content so
// all four lanes light up.
package seeder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/omniport-systems/omniport/internal/models"
)

// Config controls a seeding run.
type Config struct {
	GatewayURL string
	Count      int
	Interval   time.Duration
	RiskyRatio float64
}

// DefaultConfig returns a small local run against a default gateway.
func DefaultConfig() Config {
	return Config{
		GatewayURL: "http://localhost:8080",
		Count:      100,
		Interval:   50 * time.Millisecond,
		RiskyRatio: 0.15,
	}
}

// Runner executes the seeding process.
type Runner struct {
	cfg    Config
	client *http.Client
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Run generates and sends the configured number of ingestion requests.
func (r *Runner) Run() error {
	gofakeit.Seed(time.Now().UnixNano())

	log.Printf("Starting traffic seeder:")
	log.Printf("  Gateway URL: %s", r.cfg.GatewayURL)
	log.Printf("  Request count: %d", r.cfg.Count)
	log.Printf("  Interval: %v", r.cfg.Interval)
	log.Printf("  Risky ratio: %.0f%%", r.cfg.RiskyRatio*100)

	var accepted, blocked, rejected, failed int

	for i := 0; i < r.cfg.Count; i++ {
		req := r.generate()

		status, err := r.send(req)
		switch {
		case err != nil:
			failed++
			log.Printf("WARN: send failed: %v", err)
		case status == http.StatusAccepted:
			accepted++
		case status == http.StatusForbidden:
			blocked++
		default:
			rejected++
		}

		if r.cfg.Interval > 0 {
			time.Sleep(r.cfg.Interval)
		}
	}

	log.Printf("Seeding complete: %d accepted, %d blocked, %d rejected, %d failed",
		accepted, blocked, rejected, failed)
	return nil
}

// riskyContent triggers the lexical patterns at various severities.
var riskyContent = []string{
	"please transfer money to my new account",
	"URGENT: change my account settings immediately",
	"delete everything on my account",
	"what is the admin password token",
	"'; DROP TABLE users; --",
	"<script>alert(1)</script>",
	"{{constructor.constructor('return this')()}}",
	"update config asap this is an emergency",
}

func (r *Runner) generate() *models.IngestRequest {
	source := models.Sources[rand.Intn(len(models.Sources))]

	content := gofakeit.Sentence(8 + rand.Intn(12))
	if rand.Float64() < r.cfg.RiskyRatio {
		content = riskyContent[rand.Intn(len(riskyContent))]
	}
	if source == models.SourceVoice {
		content = "um " + content + " uh like " + gofakeit.Word()
	}

	req := &models.IngestRequest{
		Source:         string(source),
		Content:        content,
		DeviceID:       fmt.Sprintf("device-%d", rand.Intn(50)),
		UserID:         gofakeit.UUID(),
		OrganizationID: fmt.Sprintf("org-%d", rand.Intn(5)),
		Metadata: map[string]any{
			"seed":       true,
			"user_email": gofakeit.Email(),
		},
	}

	if source == models.SourceWebhook && rand.Intn(3) == 0 {
		req.CallbackURL = gofakeit.URL()
	}

	return req
}

func (r *Runner) send(req *models.IngestRequest) (int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := r.client.Post(r.cfg.GatewayURL+"/ingest", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

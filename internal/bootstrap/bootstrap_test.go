package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/config"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/memory"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
)

func TestOpenStoreMemory(t *testing.T) {
	conn, err := OpenStore(context.Background(), config.StoreConfig{Driver: config.DriverMemory}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if conn.Pool != nil {
		t.Error("memory store should not carry a pool")
	}
	if err := conn.Store.Ping(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "sqlite"}, nil)
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("err = %v", err)
	}
}

func TestOpenArtifactHostLocal(t *testing.T) {
	host, local, err := OpenArtifactHost(context.Background(), config.ArtifactConfig{
		Driver:        config.ArtifactLocal,
		Dir:           t.TempDir(),
		PublicBaseURL: "https://clinic.example",
	})
	if err != nil {
		t.Fatal(err)
	}
	if local == nil || host == nil {
		t.Fatal("local host should be returned for /media")
	}
	url, err := host.Put(context.Background(), "rx-1-abc.pdf", []byte("%PDF"), "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://clinic.example/media/rx-1-abc.pdf" {
		t.Errorf("url = %s", url)
	}
}

func TestNewDispatcherNeedsGatewayCredentials(t *testing.T) {
	cfg := &config.Config{SMS: config.SMSConfig{FromNumber: "+15550100"}}
	host, _, _ := OpenArtifactHost(context.Background(), config.ArtifactConfig{Driver: config.ArtifactLocal, Dir: t.TempDir(), PublicBaseURL: "https://clinic.example"})

	_, err := NewDispatcher(cfg, DispatcherDeps{
		Records:  memory.NewStore(),
		Renderer: prescriptionpdf.NewRenderer(nil),
		Host:     host,
		Breakers: circuitbreaker.NewManager(nil),
	}, nil)
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("err = %v", err)
	}
}

func TestNewDispatcherRegistersBreaker(t *testing.T) {
	cfg := &config.Config{SMS: config.SMSConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+15550100",
	}}
	host, _, _ := OpenArtifactHost(context.Background(), config.ArtifactConfig{Driver: config.ArtifactLocal, Dir: t.TempDir(), PublicBaseURL: "https://clinic.example"})
	breakers := circuitbreaker.NewManager(nil)

	d, err := NewDispatcher(cfg, DispatcherDeps{
		Records:  memory.NewStore(),
		Renderer: prescriptionpdf.NewRenderer(nil),
		Host:     host,
		Breakers: breakers,
	}, nil)
	if err != nil || d == nil {
		t.Fatalf("dispatcher = %v, %v", d, err)
	}
	status := breakers.GetHealthStatus()
	if len(status) != 1 || status[0].Name != GatewayBreaker || !status[0].Healthy {
		t.Errorf("breakers = %+v", status)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("loud")
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(-1) {
		t.Error("debug should be disabled for an unknown level")
	}
}

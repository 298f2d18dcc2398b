package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/OverlayEngine/internal/api"
	"github.com/AaronLay10/OverlayEngine/internal/config"
	"github.com/AaronLay10/OverlayEngine/internal/engine"
	"github.com/AaronLay10/OverlayEngine/internal/events"
	"github.com/AaronLay10/OverlayEngine/internal/mqtt"
	"github.com/AaronLay10/OverlayEngine/internal/orchestrator"
	"github.com/AaronLay10/OverlayEngine/internal/scene"
	"github.com/AaronLay10/OverlayEngine/internal/storage/postgres"
	"github.com/AaronLay10/OverlayEngine/internal/version"
)

const (
	gatewayCheckInterval = 5 * time.Second
	alertCheckInterval   = 5 * time.Second
)

func main() {
	events.SetOutput(os.Stdout)

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load engine config: %v", err)
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "overlay engine starting", map[string]interface{}{
		"service":  "overlayd",
		"engine":   cfg.Engine.Name,
		"hostname": hostname,
		"pid":      os.Getpid(),
		"version":  version.Version,
	})

	if err := api.InitAuth(); err != nil {
		log.Fatalf("auth: %v", err)
	}
	if err := api.InitTLS(); err != nil {
		log.Fatalf("tls: %v", err)
	}
	api.InitMetrics()
	api.InitAlerts()
	api.SetEngineName(cfg.Engine.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The broker database is required: every anchor and selection reads it.
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pg, err := postgres.New(pgCtx, cfg.PostgresDSN())
	cancel()
	if err != nil {
		events.Emit("error", "system.error", "postgres unavailable", map[string]interface{}{"error": err.Error()})
		log.Fatalf("postgres: %v", err)
	}
	defer pg.Close()
	api.SetPostgresState(true, false)

	registry := mqtt.NewDeviceRegistry()
	monitor := mqtt.NewMonitor(2.0)
	monitor.Start(gatewayCheckInterval)
	defer monitor.Stop()

	client := mqtt.NewClient(cfg.MQTT.URL, cfg.MQTT.ClientID)
	telemetry := mqtt.NewTelemetrySubscriber(client, registry, monitor)
	telemetry.SetRecorder(pg)

	// MQTT is optional: without it sensor surfaces show no live values.
	connected := client.StartWithRetry(cfg.MQTT.RegisterTopic, registrationHandler(monitor, registry, telemetry))
	if connected {
		if err := telemetry.SubscribeTopic(cfg.MQTT.TelemetryTopic); err != nil {
			log.Printf("mqtt: telemetry subscribe failed: %v", err)
		}
	}
	api.SetMQTTState(connected, true)
	defer client.Disconnect()

	var library *orchestrator.ProcedureSet
	if path := cfg.Engine.Procedures; path != "" {
		library, err = orchestrator.LoadProcedures(path)
		if err != nil {
			log.Fatalf("failed to load procedures: %v", err)
		}
	}

	loop := scene.NewLoop(0)
	loop.Start()
	defer loop.Stop()
	graph := scene.NewGraph()

	session := engine.New(engine.Config{
		Renderer:        graph,
		Dispatcher:      loop,
		Broker:          pg,
		Telemetry:       telemetry,
		History:         pg,
		Simulations:     orchestrator.NewSimulationControl(client, registry),
		Library:         library,
		PollInterval:    cfg.PollInterval(),
		RestoreDuration: cfg.RestoreDuration(),
	})
	session.Start(ctx)
	defer session.Close()

	api.SetEngine(session)
	api.SetAnchorHost(newAnchorHost(graph, loop, session))
	api.SetEngineReady(true)
	api.StartAlertMonitor(ctx, alertCheckInterval)
	api.Start(cfg.APIPort())

	go watchMQTT(ctx, client)

	<-ctx.Done()
	events.Emit("info", "system.shutdown", "overlay engine stopping", nil)
	api.SetEngineReady(false)
	events.CloseAllSubscribers()
}

// registrationHandler validates gateway registrations, records their
// devices for simulation commands and follows their telemetry topics.
func registrationHandler(monitor *mqtt.Monitor, registry *mqtt.DeviceRegistry, telemetry *mqtt.TelemetrySubscriber) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		payload, err := mqtt.ParseRegistration(msg.Payload())
		if err != nil {
			events.Emit("warning", "device.error", "invalid registration", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
			return
		}
		if result := monitor.HandleRegistration(payload); result != nil && !result.Valid {
			return
		}
		registry.RegisterFromPayload(payload)
		for _, dev := range payload.Devices {
			if rd := registry.Get(dev.DeviceID); rd != nil {
				if err := telemetry.SubscribeDevice(rd); err != nil {
					log.Printf("mqtt: subscribe %s: %v", rd.TelemetryTopic, err)
				}
			}
		}
	}
}

// watchMQTT mirrors the broker connection into readiness.
func watchMQTT(ctx context.Context, client *mqtt.Client) {
	ticker := time.NewTicker(gatewayCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			api.SetMQTTState(client.IsConnected(), true)
		}
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/command"
	"github.com/sweeney/tank-controller/internal/config"
	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/metrics"
	"github.com/sweeney/tank-controller/internal/mqtt"
	"github.com/sweeney/tank-controller/internal/status"
	"github.com/sweeney/tank-controller/internal/units"
	"github.com/sweeney/tank-controller/internal/web"
)

// httpCommandQueue bounds the control requests waiting for the loop.
const httpCommandQueue = 8

func runDaemon(cfg config.Config) error {
	log := logrus.WithField("component", "main")

	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.Close()

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.Broker, DeviceID: cfg.DeviceID})
	if err != nil {
		return errors.Wrap(err, "init mqtt")
	}
	defer publisher.Close()

	// Tracker exists before STARTUP so the snapshot is available.
	tracker := newTracker(cfg, time.Now())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	m := metrics.New()

	httpCmds := make(chan command.Command, httpCommandQueue)
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, m, httpCmds)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTPAddr).Info("http status server listening")
	}

	log.WithFields(logrus.Fields{
		"poll":      cfg.Poll,
		"telemetry": cfg.Telemetry,
		"broker":    cfg.Broker,
		"device_id": cfg.DeviceID,
	}).Info("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := newLoop(cfg, hw.components, publisher, tracker, m, time.Now)
	return l.run(ticker.C, publisher.Commands(), httpCmds, sigCh)
}

func newTracker(cfg config.Config, start time.Time) *status.Tracker {
	return status.NewTracker(start, status.Config{
		DeviceID:    cfg.DeviceID,
		PollMs:      cfg.Poll.Milliseconds(),
		TelemetryMs: cfg.Telemetry.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPPort:    cfg.HTTPAddr,
		MaxLevel:    cfg.Pump.MaxLevel,
		MinLevel:    cfg.Pump.MinLevel,
	})
}

// bufferStats is implemented by publishers with an offline buffer.
type bufferStats interface {
	Buffered() int
	Dropped() int
}

// loop is the single owner of the sensors and the pump controller.
type loop struct {
	cfg        config.Config
	components
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *logrus.Entry

	autoMode      bool
	override      bool
	reason        logic.Reason
	readings      status.Readings
	lastTelemetry time.Time
	lastDebug     time.Time
}

func newLoop(cfg config.Config, c components, publisher mqtt.Publisher, tracker *status.Tracker, m *metrics.Metrics, now func() time.Time) *loop {
	l := &loop{
		cfg:        cfg,
		components: c,
		publisher:  publisher,
		tracker:    tracker,
		metrics:    m,
		now:        now,
		log:        logrus.WithField("component", "loop"),
		autoMode:   cfg.Pump.AutoMode,
		reason:     logic.ReasonIdle,
		readings:   status.Readings{Distance: units.NoDistance, Level: units.NoPercent},
	}
	if cs, ok := publisher.(mqtt.ConnectionStatus); ok {
		l.mqttStatus = cs
	}
	tracker.SetSensors(status.Sensors{
		Current: c.current.IsConnected(),
		Power:   c.power.Active(),
		Level:   c.level.Active(),
	})
	l.syncCalibration()
	l.syncTracker()
	return l
}

// run processes ticks, commands and signals until a shutdown signal arrives.
// remote and local carry commands from MQTT and HTTP; either may be nil.
func (l *loop) run(tick <-chan time.Time, remote, local <-chan command.Command, sig <-chan os.Signal) error {
	start := l.now()
	l.lastTelemetry = start
	l.lastDebug = start
	l.publishSystem("STARTUP", "")

	for {
		select {
		case s := <-sig:
			l.log.Infof("received %v, shutting down", s)
			l.shutdown(signalName(s))
			return nil

		case cmd := <-remote:
			l.handleCommand(cmd)

		case cmd := <-local:
			l.handleCommand(cmd)

		case <-tick:
			l.tick(l.now())
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func (l *loop) tick(t time.Time) {
	if l.level.Active() {
		l.controlPump(t)
	}
	// The override is a one-tick pulse whether or not it was acted on.
	l.override = false

	if l.power.Active() {
		l.power.Update()
		l.readings.Power = l.power.Power()
		l.readings.PeakPower = l.power.PeakPower()
		l.readings.Energy = l.power.CumulativeEnergy()
	}
	if l.current.IsConnected() {
		l.current.Update()
		l.readings.Current = l.current.Current()
	}

	l.syncTracker()

	if l.cfg.Telemetry > 0 && t.Sub(l.lastTelemetry) >= l.cfg.Telemetry {
		l.lastTelemetry = t
		if err := l.publisher.PublishTelemetry(status.FormatTelemetry(l.tracker.Snapshot())); err != nil {
			l.log.WithError(err).Warn("telemetry publish error")
		}
	}
	if l.cfg.Debug > 0 && t.Sub(l.lastDebug) >= l.cfg.Debug {
		l.lastDebug = t
		l.debugLine()
	}
}

// controlPump reads the tank level and runs one controller step. An invalid
// reading switches the pump off.
func (l *loop) controlPump(t time.Time) {
	distance := l.level.Level()
	level := l.level.Percent(distance)
	l.readings.Distance = distance
	l.readings.Level = level

	if !level.Valid() {
		ev, err := l.pump.TurnOff(t, logic.ReasonFailSafe)
		if err != nil {
			l.log.WithError(err).Error("fail-safe stop failed")
		}
		l.reason = logic.ReasonFailSafe
		l.emit(ev)
		return
	}

	d, err := l.pump.Update(logic.Inputs{
		Level:          float64(level),
		MaxThreshold:   l.cfg.Pump.MaxLevel,
		MinThreshold:   l.cfg.Pump.MinLevel,
		AutoMode:       l.autoMode,
		ManualOverride: l.override,
		Time:           t,
	})
	if err != nil {
		l.log.WithError(err).Error("pump update failed")
	}
	l.reason = d.Reason
	l.emit(d.Event)
}

func (l *loop) emit(ev *logic.Event) {
	if ev == nil {
		return
	}
	l.log.WithFields(logrus.Fields{"reason": ev.Reason, "level": ev.Level}).Infof("event: %s", ev.Type)
	if err := l.publisher.PublishEvent(*ev); err != nil {
		l.log.WithError(err).Warn("publish error")
	}
}

func (l *loop) handleCommand(cmd command.Command) {
	log := l.log.WithFields(logrus.Fields{"kind": cmd.Kind, "source": cmd.Source})

	switch cmd.Kind {
	case command.KindAutoMode:
		l.autoMode = cmd.AutoMode
		log.WithField("auto_mode", cmd.AutoMode).Info("auto mode changed")
	case command.KindManualOverride:
		if !l.level.Active() {
			log.Warn("manual override ignored: no level sensor")
			return
		}
		l.override = true
		log.Info("manual override requested")
	case command.KindCalibrateLevel:
		near, far := units.Centimeters(cmd.Level.Near), units.Centimeters(cmd.Level.Far)
		if err := l.level.Calibrate(near, far); err != nil {
			log.WithError(err).Warn("level calibration rejected")
			return
		}
	case command.KindCalibrateCurrent:
		scale, ok := l.current.Calibrate(units.Amps(cmd.Current.KnownAmps))
		if !ok {
			log.Warn("current calibration skipped: sensor not connected")
			return
		}
		log.WithField("scale", scale).Info("current calibrated")
	default:
		log.Warn("unknown command")
		return
	}
	l.syncCalibration()
	l.syncTracker()
}

func (l *loop) syncCalibration() {
	span := l.level.Calibration()
	l.tracker.SetCalibration(status.LevelCalibration{Near: span.Near, Far: span.Far},
		l.current.Calibration().Scale)
}

// syncTracker copies loop state into the tracker and the metrics.
func (l *loop) syncTracker() {
	l.tracker.UpdatePump(l.pump.State(), l.reason, l.autoMode, l.pump.EventCountsSnapshot())
	l.tracker.UpdateReadings(l.readings)
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	l.metrics.Observe(l.tracker.Snapshot())
	if bs, ok := l.publisher.(bufferStats); ok {
		l.metrics.ObserveMQTT(bs.Buffered(), bs.Dropped())
	}
}

func (l *loop) publishSystem(event, reason string) {
	snap := l.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := l.publisher.PublishSystem(ev); err != nil {
		l.log.WithError(err).Warnf("failed to publish %s event", event)
		return
	}
	l.log.Infof("published %s event", event)
}

func (l *loop) shutdown(reason string) {
	ev, err := l.pump.TurnOff(l.now(), logic.ReasonShutdown)
	if err != nil {
		l.log.WithError(err).Error("failed to stop pump on shutdown")
	}
	if ev != nil {
		l.reason = logic.ReasonShutdown
	}
	l.emit(ev)
	l.syncTracker()
	l.publishSystem("SHUTDOWN", reason)
}

func naString(ok bool, format string, v float64) string {
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf(format, v)
}

func (l *loop) debugLine() {
	l.log.WithFields(logrus.Fields{
		"level":  naString(l.level.Active() && l.readings.Distance.Valid(), "%.2f cm", float64(l.readings.Distance)),
		"power":  naString(l.power.Active(), "%.2f W", float64(l.readings.Power)),
		"energy": naString(l.power.Active(), "%.4f kWh", float64(l.readings.Energy)),
		"ct":     naString(l.current.IsConnected(), "%.2f A", float64(l.readings.Current)),
		"pump":   l.pump.State(),
	}).Debug("readings")
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

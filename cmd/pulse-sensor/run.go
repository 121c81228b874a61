package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/pulse-sensor/internal/config"
	"github.com/sweeney/pulse-sensor/internal/gpio"
	"github.com/sweeney/pulse-sensor/internal/monitor"
	"github.com/sweeney/pulse-sensor/internal/mqtt"
	"github.com/sweeney/pulse-sensor/internal/status"
	"github.com/sweeney/pulse-sensor/internal/web"
)

// devices holds the GPIO lines the monitor drives.
type devices struct {
	sensor gpio.Input
	button gpio.Input // nil = none
	output gpio.Output
	close  func() error
}

func (d *devices) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// Seams for tests.
var (
	openDevices  = openGPIO
	newPublisher = connectMQTT
)

// signalError is the cancellation cause when a signal stops the daemon.
type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return "received " + e.sig.String()
}

// run wires the daemon together and blocks until ctx is done, a signal
// arrives or the monitor fails.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			logger.Warn("shutting down", "signal", s.String())
			cancel(signalError{sig: s})
		case <-ctx.Done():
		}
	}()

	return runDaemon(ctx, cfg, logger)
}

func runDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	session := uuid.NewString()

	dev, err := openDevices(cfg)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Warn("gpio close failed", "error", err)
		}
	}()

	publisher, err := newPublisher(cfg, session, logger)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		SensorPin:  cfg.SensorPin,
		OutputPin:  cfg.OutputPin,
		ButtonPin:  cfg.ButtonPin,
		WaitMs:     cfg.Wait.Duration().Milliseconds(),
		DebounceMs: cfg.Debounce.Duration().Milliseconds(),
		IdleMin:    cfg.IdleMin,
		IdleMax:    cfg.IdleMax,
		IdleStep:   cfg.IdleStep,
		Broker:     cfg.MQTT.Broker,
		Topic:      cfg.MQTT.Topic,
		HTTPAddr:   cfg.HTTP,
	})

	mon, err := monitor.New(monitor.Config{
		Wait:            cfg.Wait.Duration(),
		Pace:            cfg.Pace(),
		DefaultIdleRate: cfg.IdleRate,
	}, monitor.Deps{
		Sensor:    dev.sensor,
		Button:    dev.button,
		Output:    dev.output,
		Publisher: publisher,
		Tracker:   tracker,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	publishSystem(publisher, logger, mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     "STARTUP",
		Session:   session,
		Retained:  true,
	})
	logger.Info("started",
		"sensor_pin", cfg.SensorPin,
		"output_pin", cfg.OutputPin,
		"button_pin", cfg.ButtonPin,
		"idle_rate", cfg.IdleRate,
		"wait", cfg.Wait.Duration(),
		"broker", cfg.MQTT.Broker,
		"http", cfg.HTTP,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	publishSystem(publisher, logger, mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    shutdownReason(ctx, err),
		Session:   session,
		Retained:  true,
	})
	return err
}

func publishSystem(p mqtt.Publisher, logger *slog.Logger, event mqtt.SystemEvent) {
	if err := p.PublishSystem(event); err != nil {
		logger.Warn("system event publish failed", "event", event.Event, "error", err)
		return
	}
	logger.Debug("published system event", "event", event.Event, "reason", event.Reason)
}

// shutdownReason names what stopped the daemon for the SHUTDOWN event.
func shutdownReason(ctx context.Context, err error) string {
	var sig signalError
	if errors.As(context.Cause(ctx), &sig) {
		return signalName(sig.sig)
	}
	switch {
	case errors.Is(err, monitor.ErrSensorClosed):
		return "SENSOR_FAILURE"
	case errors.Is(err, monitor.ErrButtonClosed):
		return "BUTTON_FAILURE"
	case err != nil:
		return "ERROR"
	}
	return "STOPPED"
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

// openGPIO requests the configured lines: both edges on the sensor,
// falling edges on the button (a press pulls a pulled-up line to ground).
func openGPIO(cfg config.Config) (*devices, error) {
	sensorBias, err := gpio.ParseBias(cfg.SensorBias)
	if err != nil {
		return nil, err
	}
	buttonBias, err := gpio.ParseBias(cfg.ButtonBias)
	if err != nil {
		return nil, err
	}

	chip, err := gpio.OpenChip(cfg.Chip)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	closers = append(closers, chip.Close)

	dev := &devices{close: cleanup}

	sensor, err := chip.Input(cfg.SensorPin, gpio.EdgeBoth, sensorBias, gpio.DefaultEventBuffer)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, sensor.Close)
	dev.sensor = sensor

	output, err := chip.Output(cfg.OutputPin)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, output.Close)
	dev.output = output

	if cfg.HasButton() {
		button, err := chip.Input(cfg.ButtonPin, gpio.EdgeFalling, buttonBias, gpio.DefaultEventBuffer)
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, button.Close)
		dev.button = button
	}
	return dev, nil
}

// connectMQTT returns the telemetry publisher: a no-op without a broker,
// otherwise a paho client behind a non-blocking queue.
func connectMQTT(cfg config.Config, session string, logger *slog.Logger) (mqtt.Publisher, error) {
	if cfg.MQTT.Broker == "" {
		logger.Info("mqtt disabled: no broker configured")
		return mqtt.Nop{}, nil
	}
	rp, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		Topic:       cfg.MQTT.Topic,
		SystemTopic: cfg.MQTT.SystemTopic,
		Session:     session,
	}, logger)
	if err != nil {
		return nil, err
	}
	return mqtt.NewAsync(rp, mqtt.AsyncOptions{
		QueueSize:  cfg.MQTT.Queue,
		RatePerSec: cfg.MQTT.RatePerSec,
	}, logger), nil
}

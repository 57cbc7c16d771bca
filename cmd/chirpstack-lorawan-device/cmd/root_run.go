package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-lorawan-device/internal/band"
	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/crypto/aes"
	"github.com/brocaar/chirpstack-lorawan-device/internal/engine"
	"github.com/brocaar/chirpstack-lorawan-device/internal/metrics"
	"github.com/brocaar/chirpstack-lorawan-device/internal/queue"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio/mqtt"
	"github.com/brocaar/chirpstack-lorawan-device/internal/radio/simulated"
	"github.com/brocaar/chirpstack-lorawan-device/internal/rcommand"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
	"github.com/brocaar/chirpstack-lorawan-device/internal/storage"
	"github.com/brocaar/lorawan"
)

// device holds the components wired together by run.
type device struct {
	sched   *scheduler.Scheduler
	driver  radio.Driver
	radio   *radio.Radio
	engine  *engine.Engine
	queue   *queue.Queue
	command *rcommand.Interpreter
}

func run(cmd *cobra.Command, args []string) error {
	var dev device

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return errors.Wrap(err, "could not create cpu profile file")
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			return errors.Wrap(err, "could not start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupBand,
		setupMetrics,
		setupStorage,
		dev.setupRadio,
		dev.setupEngine,
		dev.setupQueue,
		dev.setupSession,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- dev.sched.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received")
		log.Warning("stopping chirpstack-lorawan-device")
		cancel()
		if err := <-errChan; err != nil {
			log.WithError(err).Error("scheduler error")
		}
	case err := <-errChan:
		log.WithError(err).Error("scheduler stopped")
	}

	return dev.close()
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version":  version,
		"dev_eui":  config.C.Device.DevEUI,
		"join_eui": config.C.Device.JoinEUI,
		"band":     config.C.Band.Name,
		"radio":    config.C.Radio.Type,
	}).Info("starting ChirpStack LoRaWAN Device")
	return nil
}

func setupBand() error {
	if err := band.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup band error")
	}
	return nil
}

func setupMetrics() error {
	if err := metrics.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup metrics error")
	}
	return nil
}

func setupStorage() error {
	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func (d *device) setupRadio() error {
	d.sched = scheduler.New(scheduler.NewSystemClock())

	switch config.C.Radio.Type {
	case "simulated":
		n, err := newSimulatedNetwork(config.C)
		if err != nil {
			return errors.Wrap(err, "new simulated network error")
		}
		d.driver = simulated.NewDriver(d.sched, n)
	case "mqtt":
		drv, err := mqtt.NewDriver(config.C)
		if err != nil {
			return errors.Wrap(err, "new mqtt radio error")
		}
		d.driver = drv
	default:
		return fmt.Errorf("unexpected radio type: %s", config.C.Radio.Type)
	}

	d.radio = radio.New(d.sched, d.driver)
	return nil
}

// newSimulatedNetwork returns a network simulator which knows the keys of
// the configured device.
func newSimulatedNetwork(c config.Config) (*simulated.Network, error) {
	eui := c.Device.DevEUI
	nc := simulated.NetworkConfig{
		Band:     c.Band.Name,
		AppKey:   c.Device.AppKey,
		NetID:    lorawan.NetID{0x00, 0x00, 0x13},
		DevAddr:  lorawan.DevAddr{0x26, eui[5], eui[6], eui[7]},
		AppNonce: 1,
		RXDelay:  1,
		RSSI:     -60,
		SNR:      7.5,
	}
	if c.ABPEnabled() {
		nc.NetID = c.Device.ABP.NetID
		nc.DevAddr = c.Device.ABP.DevAddr
	}

	n, err := simulated.NewNetwork(nc)
	if err != nil {
		return nil, err
	}

	if c.ABPEnabled() {
		n.SetSession(&simulated.NetworkSession{
			DevEUI:  c.Device.DevEUI,
			JoinEUI: c.Device.JoinEUI,
			DevAddr: c.Device.ABP.DevAddr,
			NwkSKey: c.Device.ABP.NwkSKey,
			AppSKey: c.Device.ABP.AppSKey,
		})
	}

	return n, nil
}

func (d *device) setupEngine() error {
	backend, err := aes.Get(config.C.General.AESBackend)
	if err != nil {
		return errors.Wrap(err, "get aes backend error")
	}

	d.engine = engine.New(d.sched, d.radio, band.Band(), backend, engine.OptionsFromConfig(config.C))
	return nil
}

func (d *device) setupQueue() error {
	d.queue = queue.New(d.sched, d.engine, config.C.Queue.Size, nil)
	d.command = rcommand.New(d.sched, d.engine, d.queue, config.C)
	d.engine.SetHandler(d.handleEvent)
	return nil
}

// setupSession restores the persisted session, sets up the ABP session or
// starts joining. The scheduler loop is not running yet, so the engine can
// be called from this goroutine.
func (d *device) setupSession() error {
	err := d.engine.Restore(context.Background())
	switch {
	case err == nil && d.engine.Session().Joined:
		log.Info("session restored")
	case err == nil || errors.Cause(err) == storage.ErrDoesNotExist:
		if config.C.ABPEnabled() {
			d.engine.SetSession(config.C.Device.ABP.NetID, config.C.Device.ABP.DevAddr, config.C.Device.ABP.NwkSKey, config.C.Device.ABP.AppSKey)
		} else {
			d.engine.StartJoining()
		}
	default:
		return errors.Wrap(err, "restore session error")
	}

	if config.C.Device.DataRate >= 0 && !config.C.Device.ADR {
		txPower := engine.KeepTXPower
		if config.C.Device.TXPower >= 0 {
			txPower = config.C.Device.TXPower
		}
		if err := d.engine.SetDataRateTXPower(config.C.Device.DataRate, txPower); err != nil {
			return errors.Wrap(err, "set data-rate error")
		}
	}

	d.queue.Start()
	return nil
}

func (d *device) handleEvent(e engine.Event) {
	logFields := log.Fields{
		"event": e.Type,
	}

	switch e.Type {
	case engine.EventTXComplete:
		logFields["ack"] = e.ACK
		logFields["nack"] = e.NACK
	case engine.EventRXComplete:
		logFields["f_port"] = e.Port
		logFields["size"] = len(e.Payload)

		if int(e.Port) == config.C.Queue.CommandPort {
			d.command.Execute(e.Payload)
		}
	case engine.EventJoinFailed:
		log.WithFields(logFields).Warning("device: join failed, retrying")
		return
	case engine.EventFault:
		log.WithFields(logFields).WithError(e.Err).Error("device: engine fault")
		return
	}

	log.WithFields(logFields).Info("device: event")
}

func (d *device) close() error {
	if d.queue != nil {
		d.queue.Stop()
	}

	if drv, ok := d.driver.(*mqtt.Driver); ok {
		if err := drv.Close(); err != nil {
			return errors.Wrap(err, "close mqtt radio error")
		}
	}

	return nil
}

// Package rcommand implements the interpreter of the remote commands sent
// by the application server as downlink on the command port.
//
// A downlink holds one or multiple commands, each an opcode followed by
// its parameters. Parsing stops at the first unknown opcode, a command with
// missing parameters is skipped.
package rcommand

import (
	"encoding/binary"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/chirpstack-lorawan-device/internal/engine"
	"github.com/brocaar/chirpstack-lorawan-device/internal/queue"
	"github.com/brocaar/chirpstack-lorawan-device/internal/scheduler"
)

// Opcodes.
const (
	SetDataRate uint8 = 0x05
	SetTXPower  uint8 = 0x06
	SetADR      uint8 = 0x07
	SetReset    uint8 = 0x09
	Flush       uint8 = 0x18
	GetConfig   uint8 = 0x80
	GetStatus   uint8 = 0x81
	FlushAlt    uint8 = 0x99
)

// Parameters of the SetReset command.
const (
	ResetRejoin     uint8 = 0
	ResetFlushQueue uint8 = 3
)

// versionSize defines the size of the version field of the config
// payload.
const versionSize = 10

// Engine defines the engine operations used by the interpreter.
type Engine interface {
	Session() engine.SessionInfo
	SetADRMode(enabled bool)
	SetDataRateTXPower(dr, txPower int) error
	Reset()
	StartJoining() bool
}

// Queue defines the send queue operations used by the interpreter.
type Queue interface {
	Enqueue(queue.Message) error
	Flush() int
}

type command struct {
	name   string
	params int
	exec   func(i *Interpreter, params []byte)
}

var commands = map[uint8]command{
	SetDataRate: {"set_data_rate", 1, (*Interpreter).setDataRate},
	SetTXPower:  {"set_tx_power", 1, (*Interpreter).setTXPower},
	SetADR:      {"set_adr", 1, (*Interpreter).setADR},
	SetReset:    {"set_reset", 1, (*Interpreter).setReset},
	Flush:       {"flush", 0, (*Interpreter).flush},
	FlushAlt:    {"flush", 0, (*Interpreter).flush},
	GetConfig:   {"get_config", 0, (*Interpreter).getConfig},
	GetStatus:   {"get_status", 0, (*Interpreter).getStatus},
}

// Interpreter executes the remote commands.
type Interpreter struct {
	sched      *scheduler.Scheduler
	engine     Engine
	queue      Queue
	statusPort uint8

	started time.Time
	now     func() time.Time
	job     scheduler.Job
}

// New creates a new Interpreter.
func New(s *scheduler.Scheduler, e Engine, q Queue, c config.Config) *Interpreter {
	return &Interpreter{
		sched:      s,
		engine:     e,
		queue:      q,
		statusPort: uint8(c.Queue.StatusPort),
		started:    time.Now(),
		now:        time.Now,
	}
}

// Execute executes the commands in the given payload. It must be called
// from the scheduler loop.
func (i *Interpreter) Execute(b []byte) {
	for cursor := 0; cursor < len(b); {
		opcode := b[cursor]
		cmd, ok := commands[opcode]
		if !ok {
			log.WithField("opcode", opcode).Warning("rcommand: unknown opcode, remaining commands ignored")
			commandCounter("unknown").Inc()
			return
		}
		cursor++

		if cursor+cmd.params > len(b) {
			log.WithFields(log.Fields{
				"opcode":  opcode,
				"command": cmd.name,
			}).Warning("rcommand: missing parameters, command skipped")
			commandCounter(cmd.name + "_skipped").Inc()
			cursor += cmd.params
			continue
		}

		params := b[cursor : cursor+cmd.params]
		cursor += cmd.params

		log.WithFields(log.Fields{
			"opcode":  opcode,
			"command": cmd.name,
			"params":  params,
		}).Info("rcommand: executing command")
		commandCounter(cmd.name).Inc()
		cmd.exec(i, params)
	}
}

func (i *Interpreter) setDataRate(params []byte) {
	if err := i.engine.SetDataRateTXPower(int(params[0]), engine.KeepTXPower); err != nil {
		log.WithError(err).WithField("dr", params[0]).Error("rcommand: set data-rate error")
	}
}

func (i *Interpreter) setTXPower(params []byte) {
	s := i.engine.Session()
	if s.ADR {
		log.Info("rcommand: set tx power ignored, adr enabled")
		return
	}
	if err := i.engine.SetDataRateTXPower(s.DR, int(params[0])); err != nil {
		log.WithError(err).WithField("tx_power", params[0]).Error("rcommand: set tx power error")
	}
}

func (i *Interpreter) setADR(params []byte) {
	i.engine.SetADRMode(params[0] != 0)
}

func (i *Interpreter) setReset(params []byte) {
	switch params[0] {
	case ResetRejoin:
		// executed once the current transaction has completed
		i.sched.ScheduleNow(&i.job, func(*scheduler.Job) {
			i.engine.Reset()
			i.engine.StartJoining()
		})
	case ResetFlushQueue:
		i.queue.Flush()
	default:
		log.WithField("param", params[0]).Warning("rcommand: unsupported reset mode")
	}
}

// flush does nothing, the downlink opened the receive windows already.
func (i *Interpreter) flush([]byte) {}

func (i *Interpreter) getConfig([]byte) {
	s := i.engine.Session()

	b := []byte{
		uint8(s.DR),
		uint8(s.TXPower),
		boolByte(s.ADR),
	}
	version := make([]byte, versionSize)
	copy(version, config.Version)
	b = append(b, version...)

	i.enqueue("get_config", b)
}

func (i *Interpreter) getStatus([]byte) {
	s := i.engine.Session()

	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(i.now().Sub(i.started)/time.Second))
	binary.BigEndian.PutUint32(b[8:12], s.FCntUp)
	binary.BigEndian.PutUint16(b[12:14], uint16(int16(s.RSSI)))
	b[14] = uint8(int8(s.SNR * 4))
	b[15] = boolByte(s.LinkDead)

	i.enqueue("get_status", b)
}

func (i *Interpreter) enqueue(name string, b []byte) {
	if err := i.queue.Enqueue(queue.Message{Port: i.statusPort, Payload: b}); err != nil {
		log.WithError(err).WithField("command", name).Error("rcommand: enqueue response error")
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

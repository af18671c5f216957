// Package sensor_simulator emulates a SOLAIR particle counter on Modbus/TCP so
// the orchestrator can run on a bench without the instrument.
package sensor_simulator

import (
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/tbrandon/mbserver"

	"github.com/LeonardoBeccarini/dust_patrol/pkg/solair"
)

// SensorSimulator tracks the start and stop commands written to the command
// register and publishes a new record in the data registers on every stop.
type SensorSimulator struct {
	srv       *mbserver.Server
	generator *DataGenerator
	now       func() time.Time

	mu       sync.Mutex
	sampling bool
	started  time.Time
	records  uint16
	starts   int
	stops    int
}

func NewSensorSimulator(gen *DataGenerator) *SensorSimulator {
	s := &SensorSimulator{srv: mbserver.NewServer(), generator: gen, now: time.Now}
	s.srv.RegisterFunctionHandler(6, s.writeRegister)
	return s
}

// Listen starts serving on addr. Requests are handled one at a time by the
// Modbus server, so register access needs no further locking.
func (s *SensorSimulator) Listen(addr string) error {
	if err := s.srv.ListenTCP(addr); err != nil {
		return err
	}
	log.Printf("simulator: SOLAIR emulator listening on %s", addr)
	return nil
}

func (s *SensorSimulator) Close() { s.srv.Close() }

// Counts returns how many start and stop commands were received.
func (s *SensorSimulator) Counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func (s *SensorSimulator) Sampling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampling
}

func (s *SensorSimulator) writeRegister(srv *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	out, exc := mbserver.WriteHoldingRegister(srv, frame)
	if exc != &mbserver.Success {
		return out, exc
	}
	data := frame.GetData()
	if len(data) < 4 || binary.BigEndian.Uint16(data[0:2]) != solair.CommandRegister {
		return out, exc
	}

	switch mode := binary.BigEndian.Uint16(data[2:4]); mode {
	case solair.ModeStart:
		s.mu.Lock()
		s.sampling, s.started = true, s.now()
		s.starts++
		s.mu.Unlock()
		log.Printf("simulator: sampling started")
	case solair.ModeStop:
		s.mu.Lock()
		s.stops++
		if !s.sampling {
			s.mu.Unlock()
			log.Printf("simulator: stop without start ignored")
			return out, exc
		}
		s.sampling = false
		sampled := s.now().Sub(s.started)
		s.records++
		seq := s.records
		s.mu.Unlock()

		level := s.generator.Next(sampled)
		srv.HoldingRegisters[solair.DataRegister] = level
		srv.HoldingRegisters[solair.DataRegister+1] = seq
		srv.HoldingRegisters[solair.DataRegister+2] = uint16(sampled / time.Second)
		log.Printf("simulator: record %d dust level %d after %v", seq, level, sampled.Round(time.Millisecond))
	default:
		log.Printf("simulator: unknown mode %d", mode)
	}
	return out, exc
}

// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package modbus implements a legacy BMS integration bridge: a Modbus TCP
// server exposing a minimal slice of the hub's domain state (per-device
// static values/mode, per-room AUTO/MANUAL control) to building-management
// systems that cannot speak MQTT or the operator HTTP API. It wires
// github.com/tbrandon/mbserver against a fixed register map (see
// DESIGN.md for the layout).
package modbus

import (
	"encoding/binary"
	"log/slog"
	"sort"
	"time"

	"github.com/tbrandon/mbserver"

	"lighting-hub/internal/config"
	"lighting-hub/internal/hub"
)

// maxChannels bounds the per-device register block; no hw_mode currently
// exceeds 4 channels, but the block leaves headroom for a wider mode
// without reshuffling every device's register addresses.
const maxChannels = 8

// registersPerDevice is the per-device block size: maxChannels holding
// registers for static values, plus one for mode.
const registersPerDevice = maxChannels + 1

// Server is the Modbus TCP legacy BMS bridge (§ DOMAIN STACK).
//
// Register map:
//   - Holding registers [i*9, i*9+7]  = device i's static values (0-255),
//     zero-padded past its channel count.
//   - Holding register  i*9+8         = device i's mode (0=static,
//     1=planned, 2=fast); writes to an unrecognized value are rejected.
//   - Coil j                          = room j's control mode
//     (0=MANUAL, 1=AUTO), read/write.
//
// Device and room order is the sorted device_id / room name order, fixed
// at construction time so the map is stable across restarts.
type Server struct {
	cfg    *config.ModbusConfig
	state  *hub.State
	logger *slog.Logger
	mb     *mbserver.Server

	deviceOrder []string
	deviceIndex map[string]int
	devices     map[string]config.DeviceConfig
	roomOrder   []string
	roomIndex   map[string]int
}

// NewServer builds the bridge from the resolved device/room configuration.
func NewServer(cfg *config.ModbusConfig, cfgRoot *config.Config, state *hub.State, logger *slog.Logger) *Server {
	deviceList := cfgRoot.AllDevices()
	devices := make(map[string]config.DeviceConfig, len(deviceList))
	deviceOrder := make([]string, 0, len(deviceList))
	for _, dev := range deviceList {
		devices[dev.DeviceID] = dev
		deviceOrder = append(deviceOrder, dev.DeviceID)
	}
	sort.Strings(deviceOrder)
	deviceIndex := make(map[string]int, len(deviceOrder))
	for i, id := range deviceOrder {
		deviceIndex[id] = i
	}

	roomOrder := make([]string, 0, len(cfgRoot.Rooms))
	for _, room := range cfgRoot.Rooms {
		roomOrder = append(roomOrder, room.Name)
	}
	sort.Strings(roomOrder)
	roomIndex := make(map[string]int, len(roomOrder))
	for i, name := range roomOrder {
		roomIndex[name] = i
	}

	return &Server{
		cfg:         cfg,
		state:       state,
		logger:      logger,
		deviceOrder: deviceOrder,
		deviceIndex: deviceIndex,
		devices:     devices,
		roomOrder:   roomOrder,
		roomIndex:   roomIndex,
	}
}

// Start launches the Modbus TCP listener in the background. A bind
// failure is returned to the caller and treated as non-fatal, matching
// the repeater's "optional worker" handling (§7e).
func (s *Server) Start() error {
	s.mb = mbserver.NewServer()

	s.mb.RegisterFunctionHandler(3, s.handleReadHoldingRegisters)    // FC03
	s.mb.RegisterFunctionHandler(6, s.handleWriteSingleRegister)     // FC06
	s.mb.RegisterFunctionHandler(16, s.handleWriteMultipleRegisters) // FC16
	s.mb.RegisterFunctionHandler(1, s.handleReadCoils)               // FC01
	s.mb.RegisterFunctionHandler(5, s.handleWriteSingleCoil)         // FC05

	addr := s.cfg.Addr
	if addr == "" {
		addr = ":502"
	}

	s.logger.Info("modbus bms bridge starting", "addr", addr, "devices", len(s.deviceOrder), "rooms", len(s.roomOrder))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.mb.ListenTCP(addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// Stop closes the Modbus TCP listener.
func (s *Server) Stop() {
	if s.mb != nil {
		s.mb.Close()
		s.logger.Info("modbus bms bridge stopped")
	}
}

func modeToRegister(mode string) (uint16, bool) {
	switch hub.DeviceMode(mode) {
	case hub.ModeStatic:
		return 0, true
	case hub.ModePlanned:
		return 1, true
	case hub.ModeFast:
		return 2, true
	default:
		return 0, false
	}
}

func registerToMode(v uint16) (hub.DeviceMode, bool) {
	switch v {
	case 0:
		return hub.ModeStatic, true
	case 1:
		return hub.ModePlanned, true
	case 2:
		return hub.ModeFast, true
	default:
		return "", false
	}
}

// readDeviceRegisters builds the registersPerDevice-wide block for one
// device: its effective static values zero-padded to maxChannels, then its
// mode register.
func (s *Server) readDeviceRegisters(deviceID string) []uint16 {
	out := make([]uint16, registersPerDevice)
	values, err := s.state.GetEffectiveStaticValues(deviceID)
	if err == nil {
		for i := 0; i < maxChannels && i < len(values); i++ {
			out[i] = uint16(values[i])
		}
	}
	if snap, err := s.state.GetDeviceStatus(deviceID); err == nil {
		if reg, ok := modeToRegister(snap.Mode); ok {
			out[maxChannels] = reg
		}
	}
	return out
}

// FC03: Read Holding Registers.
func (s *Server) handleReadHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	total := uint16(len(s.deviceOrder) * registersPerDevice)
	if uint32(startAddr)+uint32(quantity) > uint32(total) {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	resp := make([]byte, 1+quantity*2)
	resp[0] = byte(quantity * 2)

	for i := uint16(0); i < quantity; i++ {
		addr := startAddr + i
		deviceIdx := int(addr) / registersPerDevice
		offset := int(addr) % registersPerDevice
		var val uint16
		if deviceIdx < len(s.deviceOrder) {
			block := s.readDeviceRegisters(s.deviceOrder[deviceIdx])
			val = block[offset]
		}
		binary.BigEndian.PutUint16(resp[1+i*2:], val)
	}

	return resp, &mbserver.Success
}

func (s *Server) writeRegister(addr uint16, value uint16) *mbserver.Exception {
	total := uint16(len(s.deviceOrder) * registersPerDevice)
	if addr >= total {
		return &mbserver.IllegalDataAddress
	}

	deviceIdx := int(addr) / registersPerDevice
	offset := int(addr) % registersPerDevice
	deviceID := s.deviceOrder[deviceIdx]

	if offset == maxChannels {
		mode, ok := registerToMode(value)
		if !ok {
			return &mbserver.IllegalDataValue
		}
		if err := s.state.SetDeviceMode(deviceID, mode); err != nil {
			return &mbserver.SlaveDeviceFailure
		}
		s.logger.Debug("modbus set device mode", "device_id", deviceID, "mode", mode)
		return &mbserver.Success
	}

	dev := s.devices[deviceID]
	values := make([]int, dev.Channels)
	existing, err := s.state.GetEffectiveStaticValues(deviceID)
	if err == nil {
		for i := 0; i < len(values) && i < len(existing); i++ {
			values[i] = int(existing[i])
		}
	}
	if offset < len(values) {
		if value > 255 {
			value = 255
		}
		values[offset] = int(value)
	}
	if err := s.state.SetStaticValues(deviceID, values); err != nil {
		return &mbserver.SlaveDeviceFailure
	}
	s.logger.Debug("modbus set static value", "device_id", deviceID, "channel", offset, "value", value)
	return &mbserver.Success
}

// FC06: Write Single Register.
func (s *Server) handleWriteSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if exc := s.writeRegister(addr, value); exc != &mbserver.Success {
		return []byte{}, exc
	}
	return data[:4], &mbserver.Success
}

// FC16: Write Multiple Registers.
func (s *Server) handleWriteMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]

	if int(byteCount) != int(quantity)*2 || len(data) < 5+int(byteCount) {
		return []byte{}, &mbserver.IllegalDataValue
	}

	for i := uint16(0); i < quantity; i++ {
		value := binary.BigEndian.Uint16(data[5+i*2:])
		if exc := s.writeRegister(startAddr+i, value); exc != &mbserver.Success {
			return []byte{}, exc
		}
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], startAddr)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

// FC01: Read Coils (room control mode).
func (s *Server) handleReadCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	startAddr := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	total := uint16(len(s.roomOrder))
	if uint32(startAddr)+uint32(quantity) > uint32(total) {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	byteCount := (quantity + 7) / 8
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)

	for i := uint16(0); i < quantity; i++ {
		roomIdx := int(startAddr + i)
		rooms := s.state.GetAllRoomControlStatus()
		on := false
		for _, r := range rooms {
			if s.roomIndex[r.Name] == roomIdx && r.ControlMode == string(hub.ControlAuto) {
				on = true
				break
			}
		}
		if on {
			resp[1+i/8] |= 1 << (i % 8)
		}
	}

	return resp, &mbserver.Success
}

// FC05: Write Single Coil (room control mode: 0xFF00=AUTO, 0x0000=MANUAL).
func (s *Server) handleWriteSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}

	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	roomIdx := int(addr)
	if roomIdx >= len(s.roomOrder) {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	room := s.roomOrder[roomIdx]

	mode := hub.ControlManual
	if value == 0xFF00 {
		mode = hub.ControlAuto
	}
	if err := s.state.SetRoomControlMode(room, mode); err != nil {
		return []byte{}, &mbserver.SlaveDeviceFailure
	}
	s.logger.Info("modbus set room control mode", "room", room, "control_mode", mode)

	return data[:4], &mbserver.Success
}

package ictboard

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/hubertat/ictboard/drivers"
	"github.com/hubertat/ictboard/errcode"
	"github.com/pkg/errors"
)

// PortsPerBoard is the number of digital ports each board contributes to the aggregate word.
const PortsPerBoard = 3

// Role is the fixed position of a board inside the manager.
type Role int

const (
	RelayA Role = iota
	RelayB
	Status
	Sensor
)

// Roles lists every role in aggregate order.
var Roles = [4]Role{RelayA, RelayB, Status, Sensor}

func (r Role) String() string {
	switch r {
	case RelayA:
		return "RelayA"
	case RelayB:
		return "RelayB"
	case Status:
		return "Status"
	case Sensor:
		return "Sensor"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Kind is the board kind a role requires.
func (r Role) Kind() BoardKind {
	switch r {
	case RelayA, RelayB:
		return RelayBoard
	case Status:
		return StatusBoard
	default:
		return SensorBoard
	}
}

// Index is the 1-based board index used by the remote protocol.
func (r Role) Index() int {
	return int(r) + 1
}

// RoleForIndex maps a 1-based board index to its role.
func RoleForIndex(index int) (Role, error) {
	if index < 1 || index > len(Roles) {
		return 0, errors.Wrapf(errcode.Protocol, "invalid board index %d, expected 1..%d", index, len(Roles))
	}
	return Roles[index-1], nil
}

// Voltages holds the two differential inputs of the sensor board, channel 0 first.
type Voltages [2]float64

// Controller is the operation set shared by BoardManager and SyncManager.
type Controller interface {
	SetBits(v AggregateBits) error
	GetBits() (AggregateBits, error)
	GetVoltages() (Voltages, error)
	GetBoardInfo() ([]drivers.Identity, error)

	WriteByte(index int, port string, value byte) error
	ReadByte(index int, port string) (byte, error)
	ReadVoltage(index int, channel int) (float64, error)
	Identity(index int) (drivers.Identity, error)

	// Outputs returns the output word as last written; ports never written count as zero.
	Outputs() AggregateBits
}

// BoardManager aggregates four boards into one 48-bit interface.
//
// Output word: Relay-A port0..2 occupy bits 0..23, Relay-B port0..2 bits 24..47.
// Input word: Status port0..2 occupy bits 0..23, Sensor port0..2 bits 24..47.
//
// BoardManager does no locking; concurrent callers go through SyncManager.
type BoardManager struct {
	boards [4]*Board
	logger *log.Logger
}

type portRef struct {
	board *Board
	port  string
}

// NewBoardManager checks every board against its role: kind, and three ports of the role's direction.
func NewBoardManager(relayA, relayB, status, sensor *Board) (*BoardManager, error) {
	bm := &BoardManager{
		boards: [4]*Board{relayA, relayB, status, sensor},
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "BoardManager: ",
			Level:  log.GetLevel(),
		}),
	}

	for _, role := range Roles {
		b := bm.boards[role]
		if b == nil {
			return nil, errors.Wrapf(errcode.Configuration, "no board for role %s", role)
		}
		if b.Kind() != role.Kind() {
			return nil, errors.Wrapf(errcode.Configuration, "board %s is a %s board, role %s needs %s", b.Name(), b.Kind(), role, role.Kind())
		}
		ports := b.Ports()
		if len(ports) != PortsPerBoard {
			return nil, errors.Wrapf(errcode.Configuration, "board %s has %d ports, role %s needs %d", b.Name(), len(ports), role, PortsPerBoard)
		}
		for _, p := range ports {
			if idx, err := drivers.PortIndex(p.Name); err != nil || idx >= PortsPerBoard {
				return nil, errors.Wrapf(errcode.Configuration, "board %s port %s, role %s needs ports port0..port%d", b.Name(), p.Name, role, PortsPerBoard-1)
			}
			if p.Direction != role.Kind().Direction() {
				return nil, errors.Wrapf(errcode.Configuration, "board %s port %s is %s, role %s needs %s", b.Name(), p.Name, p.Direction, role, role.Kind().Direction())
			}
		}
	}

	return bm, nil
}

// Board returns the board holding role.
func (bm *BoardManager) Board(role Role) *Board {
	return bm.boards[role]
}

// fields lists the six ports behind a word in bit order: portN of first is field N,
// portN of second is field 3+N, whatever order the ports were configured in.
func (bm *BoardManager) fields(first, second Role) (refs [PortFields]portRef) {
	for i, role := range []Role{first, second} {
		b := bm.boards[role]
		for _, p := range b.Ports() {
			idx, _ := drivers.PortIndex(p.Name)
			refs[i*PortsPerBoard+idx] = portRef{board: b, port: p.Name}
		}
	}
	return
}

// SetBits writes all six output fields, zero fields included, in ascending bit order.
//
// The first failing write aborts the call. Writes already issued are not rolled back,
// so after an error the outputs hold a mix of the old and the new word.
func (bm *BoardManager) SetBits(v AggregateBits) error {
	values := SplitBits(v)
	for i, ref := range bm.fields(RelayA, RelayB) {
		if err := ref.board.WriteByte(ref.port, values[i]); err != nil {
			bm.logger.Warn("set bits aborted", "field", i, "written", i, "err", err)
			return errors.Wrapf(err, "set bits aborted at field %d (%d fields already written)", i, i)
		}
	}

	bm.logger.Debug("set bits", "value", fmt.Sprintf("0x%012X", uint64(v)))
	return nil
}

// GetBits samples all six input fields. Any failed read fails the whole call.
func (bm *BoardManager) GetBits() (AggregateBits, error) {
	var values [PortFields]byte
	for i, ref := range bm.fields(Status, Sensor) {
		b, err := ref.board.ReadByte(ref.port)
		if err != nil {
			return 0, errors.Wrap(err, "get bits")
		}
		values[i] = b
	}
	return JoinBits(values), nil
}

func (bm *BoardManager) Outputs() AggregateBits {
	var values [PortFields]byte
	for i, ref := range bm.fields(RelayA, RelayB) {
		values[i] = ref.board.lastValue(ref.port)
	}
	return JoinBits(values)
}

// GetVoltages reads sensor channels 0 and 1, both or neither.
func (bm *BoardManager) GetVoltages() (Voltages, error) {
	var v Voltages
	for ch := range v {
		volts, err := bm.boards[Sensor].ReadVoltage(ch)
		if err != nil {
			return Voltages{}, errors.Wrap(err, "get voltages")
		}
		v[ch] = volts
	}
	return v, nil
}

// GetBoardInfo returns the identities of all four boards in role order.
func (bm *BoardManager) GetBoardInfo() ([]drivers.Identity, error) {
	info := make([]drivers.Identity, 0, len(Roles))
	for _, role := range Roles {
		id, err := bm.boards[role].Identity()
		if err != nil {
			return nil, errors.Wrapf(err, "board info %s", role)
		}
		info = append(info, id)
	}
	return info, nil
}

func (bm *BoardManager) byIndex(index int) (*Board, error) {
	role, err := RoleForIndex(index)
	if err != nil {
		return nil, err
	}
	return bm.boards[role], nil
}

func (bm *BoardManager) WriteByte(index int, port string, value byte) error {
	b, err := bm.byIndex(index)
	if err != nil {
		return err
	}
	return b.WriteByte(port, value)
}

func (bm *BoardManager) ReadByte(index int, port string) (byte, error) {
	b, err := bm.byIndex(index)
	if err != nil {
		return 0, err
	}
	return b.ReadByte(port)
}

func (bm *BoardManager) ReadVoltage(index int, channel int) (float64, error) {
	b, err := bm.byIndex(index)
	if err != nil {
		return 0, err
	}
	return b.ReadVoltage(channel)
}

func (bm *BoardManager) Identity(index int) (drivers.Identity, error) {
	b, err := bm.byIndex(index)
	if err != nil {
		return drivers.Identity{}, err
	}
	return b.Identity()
}

package position

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNilState        = errors.New("position: state not configured")
	ErrAlreadyExists   = errors.New("position: address already in use")
	ErrUnknownPosition = errors.New("position: not found")
)

// State is the persistence surface for positions.
type State interface {
	GetPosition(addr common.Address) (*Position, error)
	PutPosition(addr common.Address, pos *Position) error
}

// Registry creates and loads positions.
type Registry struct {
	state State
}

func NewRegistry(state State) *Registry {
	return &Registry{state: state}
}

// DeriveAddress computes the deterministic position address for an owner and
// salt. The owner is folded into the preimage so no other party can occupy
// the address ahead of the legitimate creation.
func DeriveAddress(owner common.Address, salt [32]byte) common.Address {
	preimage := make([]byte, 0, common.AddressLength+len(salt))
	preimage = append(preimage, owner.Bytes()...)
	preimage = append(preimage, salt[:]...)
	return common.BytesToAddress(ethcrypto.Keccak256(preimage)[12:])
}

// Create derives the position address for (owner, salt) and persists a fresh
// position there. Creating the same pair twice fails.
func (r *Registry) Create(owner common.Address, salt [32]byte) (*Position, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	addr := DeriveAddress(owner, salt)
	existing, err := r.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}
	pos := New(addr, owner)
	if err := r.state.PutPosition(addr, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// Get loads a position, failing when it does not exist.
func (r *Registry) Get(addr common.Address) (*Position, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	pos, err := r.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrUnknownPosition
	}
	pos.ensureMaps()
	return pos, nil
}

// Put persists the position.
func (r *Registry) Put(pos *Position) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if pos == nil {
		return ErrInvalidOperation
	}
	return r.state.PutPosition(pos.Addr, pos)
}

package storage

import (
	"encoding/json"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"sterling/native/lending"
	"sterling/native/position"
	"sterling/native/risk"
)

// Key prefixes. Every record is JSON under a prefixed key so backends stay
// interchangeable.
var (
	prefixBalance   = []byte("bal/")
	prefixPool      = []byte("pool/")
	prefixPoolIndex = []byte("pools")
	prefixShares    = []byte("shares/")
	prefixPosition  = []byte("pos/")
	prefixLtv       = []byte("ltv/")
)

// Store persists the whole protocol state: balances, pools, deposit shares,
// positions and the LTV table. It satisfies the state interfaces of the
// bank, lending, position and risk packages.
type Store struct {
	db Database
}

func NewStore(db Database) *Store {
	return &Store{db: db}
}

func (s *Store) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

func balanceKey(addr, asset common.Address) []byte {
	key := append([]byte{}, prefixBalance...)
	key = append(key, addr.Bytes()...)
	return append(key, asset.Bytes()...)
}

// Balance implements bank.State.
func (s *Store) Balance(addr, asset common.Address) (*big.Int, error) {
	raw, err := s.db.Get(balanceKey(addr, asset))
	if errors.Is(err, ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	bal := new(big.Int)
	if err := bal.UnmarshalText(raw); err != nil {
		return nil, err
	}
	return bal, nil
}

// SetBalance implements bank.State.
func (s *Store) SetBalance(addr, asset common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	raw, err := amount.MarshalText()
	if err != nil {
		return err
	}
	return s.db.Put(balanceKey(addr, asset), raw)
}

func poolKey(poolID string) []byte {
	return append(append([]byte{}, prefixPool...), []byte(poolID)...)
}

// GetPool implements lending.State, returning nil for unknown pools.
func (s *Store) GetPool(poolID string) (*lending.Pool, error) {
	var pool lending.Pool
	ok, err := s.getJSON(poolKey(poolID), &pool)
	if err != nil || !ok {
		return nil, err
	}
	return &pool, nil
}

// PutPool implements lending.State and keeps the pool index current.
func (s *Store) PutPool(poolID string, pool *lending.Pool) error {
	if err := s.putJSON(poolKey(poolID), pool); err != nil {
		return err
	}
	ids, err := s.ListPools()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == poolID {
			return nil
		}
	}
	ids = append(ids, poolID)
	sort.Strings(ids)
	return s.putJSON(prefixPoolIndex, ids)
}

// ListPools returns every known pool identifier in sorted order.
func (s *Store) ListPools() ([]string, error) {
	var ids []string
	if _, err := s.getJSON(prefixPoolIndex, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func sharesKey(poolID string, holder common.Address) []byte {
	key := append([]byte{}, prefixShares...)
	key = append(key, []byte(poolID)...)
	key = append(key, '/')
	return append(key, holder.Bytes()...)
}

// DepositShares implements lending.State.
func (s *Store) DepositShares(poolID string, holder common.Address) (*big.Int, error) {
	raw, err := s.db.Get(sharesKey(poolID, holder))
	if errors.Is(err, ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	shares := new(big.Int)
	if err := shares.UnmarshalText(raw); err != nil {
		return nil, err
	}
	return shares, nil
}

// SetDepositShares implements lending.State.
func (s *Store) SetDepositShares(poolID string, holder common.Address, shares *big.Int) error {
	if shares == nil {
		shares = big.NewInt(0)
	}
	if shares.Sign() == 0 {
		return s.db.Delete(sharesKey(poolID, holder))
	}
	raw, err := shares.MarshalText()
	if err != nil {
		return err
	}
	return s.db.Put(sharesKey(poolID, holder), raw)
}

func positionKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixPosition...), addr.Bytes()...)
}

// GetPosition implements position.State, returning nil for unknown
// addresses.
func (s *Store) GetPosition(addr common.Address) (*position.Position, error) {
	var pos position.Position
	ok, err := s.getJSON(positionKey(addr), &pos)
	if err != nil || !ok {
		return nil, err
	}
	return &pos, nil
}

// PutPosition implements position.State.
func (s *Store) PutPosition(addr common.Address, pos *position.Position) error {
	return s.putJSON(positionKey(addr), pos)
}

func ltvKey(poolID string, asset common.Address) []byte {
	key := append([]byte{}, prefixLtv...)
	key = append(key, []byte(poolID)...)
	key = append(key, '/')
	return append(key, asset.Bytes()...)
}

// GetLtv implements risk.State, returning nil for unconfigured pairs.
func (s *Store) GetLtv(poolID string, asset common.Address) (*risk.LtvEntry, error) {
	var entry risk.LtvEntry
	ok, err := s.getJSON(ltvKey(poolID, asset), &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

// PutLtv implements risk.State.
func (s *Store) PutLtv(poolID string, asset common.Address, entry *risk.LtvEntry) error {
	return s.putJSON(ltvKey(poolID, asset), entry)
}

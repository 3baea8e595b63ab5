// Package dist persists compiled units in canonical CBOR so they can be
// cached on disk or shipped between processes and run without recompiling.
package dist

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/cinder/vm"
	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is bumped whenever the opcode set or unit layout changes.
const FormatVersion = 1

// ErrHashMismatch is returned when an image's content hash does not match
// its unit.
var ErrHashMismatch = errors.New("dist: content hash mismatch")

// ErrVersion is returned for images written by an incompatible format.
var ErrVersion = errors.New("dist: unsupported format version")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is the persisted envelope of a compiled unit.
type Image struct {
	Version int       `cbor:"1,keyasint"`
	Hash    [32]byte  `cbor:"2,keyasint"`
	Unit    *wireUnit `cbor:"3,keyasint"`
}

// wireUnit mirrors vm.CompiledUnit. Doubles travel as raw bits so negative
// zero and NaN payloads survive canonical float shortening.
type wireUnit struct {
	Name            string               `cbor:"1,keyasint,omitempty"`
	SourceName      string               `cbor:"2,keyasint,omitempty"`
	IsFunction      bool                 `cbor:"3,keyasint,omitempty"`
	IsGenerator     bool                 `cbor:"4,keyasint,omitempty"`
	NeedsActivation bool                 `cbor:"5,keyasint,omitempty"`
	ParamCount      int                  `cbor:"6,keyasint,omitempty"`
	VarNames        []string             `cbor:"7,keyasint,omitempty"`
	VarConst        []bool               `cbor:"8,keyasint,omitempty"`
	Code            []byte               `cbor:"9,keyasint"`
	Strings         []string             `cbor:"10,keyasint,omitempty"`
	Doubles         []uint64             `cbor:"11,keyasint,omitempty"`
	Exceptions      []vm.ExceptionRecord `cbor:"12,keyasint,omitempty"`
	LongJumps       map[int]int          `cbor:"13,keyasint,omitempty"`
	Nested          []*wireUnit          `cbor:"14,keyasint,omitempty"`
	Literals        []vm.LiteralInfo     `cbor:"15,keyasint,omitempty"`
	MaxVars         int                  `cbor:"16,keyasint,omitempty"`
	MaxLocals       int                  `cbor:"17,keyasint,omitempty"`
	MaxStack        int                  `cbor:"18,keyasint,omitempty"`
	MaxCalleeArgs   int                  `cbor:"19,keyasint,omitempty"`
	DebugInfo       bool                 `cbor:"20,keyasint,omitempty"`
	FirstLinePC     int                  `cbor:"21,keyasint"`
}

func toWire(u *vm.CompiledUnit) *wireUnit {
	w := &wireUnit{
		Name:            u.Name,
		SourceName:      u.SourceName,
		IsFunction:      u.IsFunction,
		IsGenerator:     u.IsGenerator,
		NeedsActivation: u.NeedsActivation,
		ParamCount:      u.ParamCount,
		VarNames:        u.VarNames,
		VarConst:        u.VarConst,
		Code:            u.Code,
		Strings:         u.Strings,
		Exceptions:      u.Exceptions,
		LongJumps:       u.LongJumps,
		Literals:        u.Literals,
		MaxVars:         u.MaxVars,
		MaxLocals:       u.MaxLocals,
		MaxStack:        u.MaxStack,
		MaxCalleeArgs:   u.MaxCalleeArgs,
		DebugInfo:       u.DebugInfo,
		FirstLinePC:     u.FirstLinePC,
	}
	for _, d := range u.Doubles {
		w.Doubles = append(w.Doubles, math.Float64bits(d))
	}
	for _, n := range u.Nested {
		w.Nested = append(w.Nested, toWire(n))
	}
	return w
}

func fromWire(w *wireUnit) *vm.CompiledUnit {
	u := &vm.CompiledUnit{
		Name:            w.Name,
		SourceName:      w.SourceName,
		IsFunction:      w.IsFunction,
		IsGenerator:     w.IsGenerator,
		NeedsActivation: w.NeedsActivation,
		ParamCount:      w.ParamCount,
		VarNames:        w.VarNames,
		VarConst:        w.VarConst,
		Code:            w.Code,
		Strings:         w.Strings,
		Exceptions:      w.Exceptions,
		LongJumps:       w.LongJumps,
		Literals:        w.Literals,
		MaxVars:         w.MaxVars,
		MaxLocals:       w.MaxLocals,
		MaxStack:        w.MaxStack,
		MaxCalleeArgs:   w.MaxCalleeArgs,
		DebugInfo:       w.DebugInfo,
		FirstLinePC:     w.FirstLinePC,
	}
	if u.LongJumps == nil {
		u.LongJumps = make(map[int]int)
	}
	for _, bits := range w.Doubles {
		u.Doubles = append(u.Doubles, math.Float64frombits(bits))
	}
	for _, n := range w.Nested {
		u.Nested = append(u.Nested, fromWire(n))
	}
	return u
}

// UnitHash returns the SHA-256 of the canonical encoding of u.
func UnitHash(u *vm.CompiledUnit) ([32]byte, error) {
	data, err := cborEncMode.Marshal(toWire(u))
	if err != nil {
		return [32]byte{}, fmt.Errorf("dist: marshal unit: %w", err)
	}
	return sha256.Sum256(data), nil
}

// MarshalUnit serializes u and its nested units to CBOR bytes.
func MarshalUnit(u *vm.CompiledUnit) ([]byte, error) {
	w := toWire(u)
	body, err := cborEncMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("dist: marshal unit: %w", err)
	}
	return cborEncMode.Marshal(&Image{Version: FormatVersion, Hash: sha256.Sum256(body), Unit: w})
}

// UnmarshalUnit deserializes a unit written by MarshalUnit, checking the
// format version and content hash, and verifies the bytecode.
func UnmarshalUnit(data []byte) (*vm.CompiledUnit, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal unit: %w", err)
	}
	if img.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, img.Version)
	}
	if img.Unit == nil {
		return nil, fmt.Errorf("dist: unmarshal unit: image has no unit")
	}
	body, err := cborEncMode.Marshal(img.Unit)
	if err != nil {
		return nil, fmt.Errorf("dist: marshal unit: %w", err)
	}
	if sum := sha256.Sum256(body); !bytes.Equal(sum[:], img.Hash[:]) {
		return nil, ErrHashMismatch
	}
	u := fromWire(img.Unit)
	if err := vm.Verify(u); err != nil {
		return nil, fmt.Errorf("dist: %w", err)
	}
	return u, nil
}

// Package vm implements the cinder bytecode interpreter.
//
// This package contains:
//   - Tagged value representation with unboxed numbers
//   - Prototype objects and scope chains
//   - Bytecode format, disassembler and verifier
//   - The frame-chain interpreter with exceptions, generators and continuations
package vm

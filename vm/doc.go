// Package vm implements the cleo virtual machine.
//
// This package contains:
//   - Dynamically typed variable cells (integer, float, string)
//   - The operand decoder for tagged inline operands
//   - The opcode table and the default opcode handlers
//   - Script threads with call frames and a conditional register
//   - The cooperative round-robin scheduler
//   - A handle-based heap for script allocations
package vm

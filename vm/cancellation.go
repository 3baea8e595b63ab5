package vm

// ---------------------------------------------------------------------------
// Cancellation and instruction budget
// ---------------------------------------------------------------------------

// tick accounts for one instruction. The context is polled every
// CheckInterval instructions; cancellation and budget exhaustion are fatal
// and bypass catch and finally handlers.
func (x *execution) tick() error {
	in := x.in
	in.steps++
	if in.InstructionLimit > 0 && in.steps > in.InstructionLimit {
		return &FatalError{Err: ErrInstructionLimit}
	}
	x.countdown--
	if x.countdown > 0 {
		return nil
	}
	x.countdown = in.CheckInterval
	if err := x.ctx.Err(); err != nil {
		return &FatalError{Err: err}
	}
	return nil
}

// checkCancelled reports a fatal error if ctx is already done. Entry points
// call it so a cancelled context never starts executing.
func (x *execution) checkCancelled() error {
	if err := x.ctx.Err(); err != nil {
		return &FatalError{Err: err}
	}
	return nil
}

package compiler

import "github.com/chazu/cinder/vm"

// ---------------------------------------------------------------------------
// Labels, fixups and enclosing statements
// ---------------------------------------------------------------------------

type labelRole int

const (
	roleBreak labelRole = iota
	roleContinue
	roleFinally
)

type labelKey struct {
	node Node
	role labelRole
}

// fixup is a jump whose target label was not yet known when it was emitted.
type fixup struct {
	pos   int // opcode position
	label int
}

type enclosureKind int

const (
	encLoop enclosureKind = iota
	encSwitch
	encLabel
	encFinally
	encWith
)

// enclosure is a statement that break, continue or return may have to
// leave: loops and switches are targets, finally blocks and with
// statements must be unwound on the way out.
type enclosure struct {
	kind  enclosureKind
	node  Node
	label string
	slot  int // return-address local of a finally
}

func (c *Compiler) newLabel() int {
	c.labels = append(c.labels, -1)
	return len(c.labels) - 1
}

// labelFor returns the label playing role for node, creating it on first
// use.
func (c *Compiler) labelFor(n Node, role labelRole) int {
	key := labelKey{n, role}
	if l, ok := c.named[key]; ok {
		return l
	}
	l := c.newLabel()
	c.named[key] = l
	return l
}

func (c *Compiler) markLabel(l int) {
	if c.labels[l] >= 0 {
		c.fault(c.fn, "label %d marked twice", l)
	}
	c.labels[l] = c.b.Len()
}

func (c *Compiler) emitJump(op vm.Opcode, l int) {
	pos := c.b.EmitJump(op)
	c.adjust(op.Info().StackEffect)
	c.fixups = append(c.fixups, fixup{pos, l})
}

func (c *Compiler) emitGosub(l, slot int) {
	pos := c.b.EmitGosub(slot)
	c.fixups = append(c.fixups, fixup{pos, l})
}

// resolveFixups patches every jump now that all labels are placed. Offsets
// that do not fit 16 bits go to the unit's long jump table.
func (c *Compiler) resolveFixups() {
	for _, f := range c.fixups {
		target := c.labels[f.label]
		if target < 0 {
			c.fault(c.fn, "jump at %d to unplaced label %d", f.pos, f.label)
		}
		c.b.PatchJump(f.pos, target, c.unit.LongJumps)
	}
	c.fixups = nil
}

func (c *Compiler) pushEnclosure(e *enclosure) {
	c.enclose = append(c.enclose, e)
}

func (c *Compiler) popEnclosure() {
	c.enclose = c.enclose[:len(c.enclose)-1]
}

// findTarget resolves the statement a break or continue refers to.
func (c *Compiler) findTarget(n Node, label string, isContinue bool) *enclosure {
	for i := len(c.enclose) - 1; i >= 0; i-- {
		e := c.enclose[i]
		if label == "" {
			if e.kind == encLoop || (e.kind == encSwitch && !isContinue) {
				return e
			}
			continue
		}
		if e.kind != encLabel || e.label != label {
			continue
		}
		if !isContinue {
			return e
		}
		for _, inner := range c.enclose[i+1:] {
			switch inner.kind {
			case encLabel:
				continue
			case encLoop:
				return inner
			}
			break
		}
		c.fault(n, "continue target %q is not a loop", label)
	}
	if label != "" {
		c.fault(n, "undefined label %q", label)
	}
	if isContinue {
		c.fault(n, "continue outside a loop")
	}
	c.fault(n, "break outside a loop or switch")
	return nil
}

// exitTo unwinds every with statement and finally block between the
// current position and target, innermost first.
func (c *Compiler) exitTo(target *enclosure) {
	for i := len(c.enclose) - 1; i >= 0 && c.enclose[i] != target; i-- {
		switch e := c.enclose[i]; e.kind {
		case encFinally:
			c.emitGosub(c.labelFor(e.node, roleFinally), e.slot)
		case encWith:
			c.emit(vm.OpLeaveWith)
		}
	}
}

// insideFinally reports whether a return must run finally blocks on the
// way out of the function.
func (c *Compiler) insideFinally() bool {
	for _, e := range c.enclose {
		if e.kind == encFinally {
			return true
		}
	}
	return false
}

// closeInterval returns the end offset of a protected region, padding with
// a NOP when another record already ends there.
func (c *Compiler) closeInterval() int {
	end := c.b.Len()
	for _, r := range c.unit.Exceptions {
		if r.TryEnd == end {
			c.emit(vm.OpNOP)
			return c.b.Len()
		}
	}
	return end
}

// addHandler records an exception handler. Empty regions get no record.
func (c *Compiler) addHandler(n Node, start, end, handler int, kind vm.HandlerKind, excSlot, scopeSlot int) {
	if start >= end {
		return
	}
	if handler < end {
		c.fault(n, "handler at %d inside its region [%d,%d)", handler, start, end)
	}
	c.unit.Exceptions = append(c.unit.Exceptions, vm.ExceptionRecord{
		TryStart:      start,
		TryEnd:        end,
		HandlerPC:     handler,
		Kind:          kind,
		ExceptionSlot: excSlot,
		ScopeSlot:     scopeSlot,
	})
}

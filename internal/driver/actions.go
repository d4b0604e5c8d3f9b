package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/clexec/internal/async"
	"github.com/behrlich/clexec/internal/constants"
	"github.com/behrlich/clexec/internal/wire"
)

// errTimeout signals Run that a Wait spun past the execute deadline.
var errTimeout = errors.New("driver: wait timed out")

// execOne runs actions[ip] and returns the next instruction pointer.
func (d *Driver) execOne(actions []wire.Action, ip int, workerTracker, blockingTracker *async.Tracker, deadline time.Time, hasDeadline bool) (int, error) {
	a := actions[ip]
	switch a.Kind {
	case wire.KindClifCall:
		if err := d.module.Call(int(a.Src)); err != nil {
			return 0, fmt.Errorf("driver: action %d: clif_call fn%d: %w", ip, a.Src, err)
		}
		return ip + 1, nil

	case wire.KindAsyncDispatch:
		return ip + 1, d.dispatch(a, workerTracker, blockingTracker)

	case wire.KindWait:
		if err := d.wait(a.Dst, deadline, hasDeadline); err != nil {
			return 0, err
		}
		return ip + 1, nil

	case wire.KindPark:
		d.park(a.Dst)
		return ip + 1, nil

	case wire.KindWake:
		d.wake(a.Dst)
		return ip + 1, nil

	case wire.KindConditionalJump:
		jump, err := d.evalConditionalJump(a)
		if err != nil {
			return 0, fmt.Errorf("driver: action %d: %w", ip, err)
		}
		if jump {
			if int(a.Dst) < 0 || int(a.Dst) > len(actions) {
				return 0, fmt.Errorf("driver: action %d: conditional_jump target %d out of range (have %d actions)", ip, a.Dst, len(actions))
			}
			return int(a.Dst), nil
		}
		return ip + 1, nil

	case wire.KindNoop:
		return ip + 1, nil

	default:
		return 0, fmt.Errorf("driver: action %d: unknown action kind %d", ip, a.Kind)
	}
}

// dispatch submits the worker program named by a.Src to the pool named by
// a.Dst. The task runs the worker's own action list synchronously on the
// pool goroutine, then writes a.Size at region offset a.Offset as the
// completion flag (spec.md §4.4/§4.5).
func (d *Driver) dispatch(a wire.Action, workerTracker, blockingTracker *async.Tracker) error {
	if int(a.Src) >= len(d.workerPrograms) {
		return fmt.Errorf("driver: async_dispatch src=%d has no matching worker program (have %d)", a.Src, len(d.workerPrograms))
	}
	program := d.workerPrograms[a.Src]

	var tracker *async.Tracker
	switch a.Dst {
	case uint32(async.ClassWorker):
		tracker = workerTracker
	case uint32(async.ClassBlocking):
		tracker = blockingTracker
	default:
		return fmt.Errorf("driver: async_dispatch dst=%d is not a known thread class (0=worker, 1=blocking)", a.Dst)
	}

	flagValue := byte(a.Size)
	if flagValue == 0 {
		flagValue = 1
	}

	accepted := tracker.Submit(func() {
		for wip := 0; wip < len(program); wip++ {
			if _, err := d.execOne(program, wip, workerTracker, blockingTracker, time.Time{}, false); err != nil {
				// A failing worker-program action has no Go caller to return
				// an error to; it's surfaced only by the flag byte never being
				// written, which the paired Wait turns into a timeout.
				return
			}
		}
		_ = d.region.WriteAt([]byte{flagValue}, a.Offset)
	})
	if !accepted {
		return fmt.Errorf("driver: async_dispatch rejected, pool no longer accepting submissions")
	}
	return nil
}

// wait spins on the flag byte at offset, clearing it once observed
// non-zero, per spec.md §4.5's Wait contract.
func (d *Driver) wait(offset uint32, deadline time.Time, hasDeadline bool) error {
	var flag [1]byte
	for {
		if err := d.region.ReadAt(flag[:], offset); err != nil {
			return fmt.Errorf("driver: wait: %w", err)
		}
		if flag[0] != 0 {
			return d.region.WriteAt([]byte{0}, offset)
		}
		if hasDeadline && time.Now().After(deadline) {
			return errTimeout
		}
		time.Sleep(constants.DefaultPollInterval)
	}
}

func (d *Driver) getOrCreatePark(offset uint32) *parkState {
	d.parkMu.Lock()
	defer d.parkMu.Unlock()
	ps, ok := d.parks[offset]
	if !ok {
		ps = &parkState{}
		ps.cond = sync.NewCond(&ps.mu)
		d.parks[offset] = ps
	}
	return ps
}

// park suspends the driver goroutine until a matching Wake on offset. A
// Wake that arrives before the Park is still observed, via the signaled
// flag, so the two actions can race without losing the signal.
func (d *Driver) park(offset uint32) {
	ps := d.getOrCreatePark(offset)
	ps.mu.Lock()
	for !ps.signaled {
		ps.cond.Wait()
	}
	ps.signaled = false
	ps.mu.Unlock()
}

// wake releases any waiter parked on offset.
func (d *Driver) wake(offset uint32) {
	ps := d.getOrCreatePark(offset)
	ps.mu.Lock()
	ps.signaled = true
	ps.cond.Signal()
	ps.mu.Unlock()
}

// comparator modes for ConditionalJump, encoded in size's bits above the
// low (width) byte.
const (
	cmpNotEqualZero uint32 = iota
	cmpEqual
	cmpNotEqual
	cmpLess
	cmpGreater
	cmpLessOrEqual
	cmpGreaterOrEqual
)

// evalConditionalJump reads the integer at (offset, width) and compares it
// against src using the mode encoded in size >> 8 (spec.md §4.5).
func (d *Driver) evalConditionalJump(a wire.Action) (bool, error) {
	width := a.Size & 0xFF
	mode := a.Size >> 8

	buf, err := d.region.Slice(a.Offset, width)
	if err != nil {
		return false, fmt.Errorf("conditional_jump: %w", err)
	}

	var value uint64
	switch width {
	case 1:
		value = uint64(buf[0])
	case 2:
		value = uint64(buf[0]) | uint64(buf[1])<<8
	case 4:
		value = uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24
	case 8:
		value = 0
		for i := 0; i < 8; i++ {
			value |= uint64(buf[i]) << (8 * i)
		}
	default:
		return false, fmt.Errorf("conditional_jump: unsupported width %d", width)
	}

	switch mode {
	case cmpNotEqualZero:
		return value != 0, nil
	case cmpEqual:
		return value == uint64(a.Src), nil
	case cmpNotEqual:
		return value != uint64(a.Src), nil
	case cmpLess:
		return value < uint64(a.Src), nil
	case cmpGreater:
		return value > uint64(a.Src), nil
	case cmpLessOrEqual:
		return value <= uint64(a.Src), nil
	case cmpGreaterOrEqual:
		return value >= uint64(a.Src), nil
	default:
		return false, fmt.Errorf("conditional_jump: unknown comparator mode %d", mode)
	}
}

package txmanager

import (
	"math/big"
	mathRand "math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

type StartStopOnce struct {
	state StartStopOnceState
	sync.RWMutex
}

type StartStopOnceState int

const (
	StartStopOnce_Unstarted StartStopOnceState = iota
	StartStopOnce_Started
	StartStopOnce_Stopped
)

func (once *StartStopOnce) StartOnce(name string, fn func() error) error {
	once.Lock()
	defer once.Unlock()

	if once.state != StartStopOnce_Unstarted {
		return errors.Errorf("%v has already started once", name)
	}
	once.state = StartStopOnce_Started

	return fn()
}

func (once *StartStopOnce) StopOnce(name string, fn func() error) error {
	once.Lock()
	defer once.Unlock()

	if once.state != StartStopOnce_Started {
		return errors.Errorf("%v has already stopped once", name)
	}
	once.state = StartStopOnce_Stopped

	return fn()
}

func (once *StartStopOnce) State() StartStopOnceState {
	once.RLock()
	defer once.RUnlock()
	return once.state
}

// withJitter adds +/- 10% to a duration
func withJitter(d time.Duration) time.Duration {
	if d < 5 {
		return d
	}
	jitter := mathRand.Intn(int(d) / 5)
	jitter = jitter - (int(d) / 10)
	return time.Duration(int(d) + jitter)
}

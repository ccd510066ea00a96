package pool

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// maxReductionFraction caps one reduction at this share of the created holders.
const maxReductionFraction = 0.2

// Reducible is the view of a pool that a Reducer needs.
type Reducible interface {
	CreatedTotal() int
	RemainingCreated() int
	InitialSize() int
	ReduceCreated(reduction int, ignoreInitialSize bool) (int, error)
}

// ReduceObserver is notified after every reduction attempt. reduced is -1
// when the attempt failed with err.
type ReduceObserver interface {
	AfterReduce(intended, reduced int, err error)
}

// ReduceObserverFunc adapts a function to ReduceObserver.
type ReduceObserverFunc func(intended, reduced int, err error)

// AfterReduce calls f.
func (f ReduceObserverFunc) AfterReduce(intended, reduced int, err error) {
	f(intended, reduced, err)
}

// LogObserver returns an observer that logs every reduction for the named pool.
func LogObserver(name string) ReduceObserver {
	return ReduceObserverFunc(func(intended, reduced int, err error) {
		if err != nil {
			log.WithField("pool", name).
				WithField("intended", intended).
				WithError(err).
				Error("pool reduction failed")
			return
		}
		log.WithField("pool", name).
			WithField("intended", intended).
			WithField("reduced", reduced).
			Debug("pool reduced")
	})
}

// Reducer periodically samples a pool's free count and destroys idle holders
// that stayed unused across a whole interval. It takes samples evenly spread
// over each interval; after the last sample of an interval it reduces by the
// smallest free count seen, capped at 20% of the created holders and never
// below the pool's initial size.
type Reducer struct {
	pool     Reducible
	interval time.Duration
	samples  int
	observer ReduceObserver

	// sampling state, owned by the reducer goroutine
	sample  int
	minFree int

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReducer creates a reducer for p. It does nothing until Start is called.
func NewReducer(p Reducible, interval time.Duration, samples int, observer ReduceObserver) (*Reducer, error) {
	if p == nil {
		return nil, fmt.Errorf("pool: reducer needs a pool")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("pool: reducer interval must be positive, got %s", interval)
	}
	if samples <= 0 {
		return nil, fmt.Errorf("pool: reducer samples must be positive, got %d", samples)
	}
	if observer == nil {
		observer = ReduceObserverFunc(func(int, int, error) {})
	}
	return &Reducer{
		pool:     p,
		interval: interval,
		samples:  samples,
		observer: observer,
		minFree:  math.MaxInt,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the background sampling goroutine. Subsequent calls are no-ops.
func (r *Reducer) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.run()
}

// Terminate stops the reducer and waits for the goroutine to exit. It is safe
// to call more than once and on a reducer that was never started.
func (r *Reducer) Terminate() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.started.Load() {
			<-r.done
		} else {
			close(r.done)
		}
	})
}

func (r *Reducer) run() {
	defer close(r.done)

	period := r.interval / time.Duration(r.samples)
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.takeSample()
		}
	}
}

// takeSample records one observation and reduces at the end of an interval.
func (r *Reducer) takeSample() {
	r.sample++
	if free := r.pool.RemainingCreated(); free < r.minFree {
		r.minFree = free
	}
	if r.sample < r.samples {
		return
	}

	reduction := r.calculateReduction()
	reduced, err := r.reduce(reduction)
	r.notify(reduction, reduced, err)

	r.sample = 0
	r.minFree = math.MaxInt
}

func (r *Reducer) calculateReduction() int {
	created := r.pool.CreatedTotal()
	maxReduction := int(math.Ceil(float64(created) * maxReductionFraction))
	reduction := min(r.minFree, maxReduction, created-r.pool.InitialSize())
	return max(reduction, 0)
}

// reduce shields the schedule from a panicking pool.
func (r *Reducer) reduce(reduction int) (reduced int, err error) {
	defer func() {
		if v := recover(); v != nil {
			reduced = -1
			err = fmt.Errorf("pool: reduce panicked: %v", v)
		}
	}()
	reduced, err = r.pool.ReduceCreated(reduction, false)
	if err != nil {
		reduced = -1
	}
	return reduced, err
}

func (r *Reducer) notify(intended, reduced int, err error) {
	defer func() {
		if v := recover(); v != nil {
			log.WithField("panic", v).Warn("reduce observer panicked")
		}
	}()
	r.observer.AfterReduce(intended, reduced, err)
}

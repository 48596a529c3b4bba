package sandbox

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/dop251/goja"
)

// maxTimerLoops bounds every drain loop; hitting it means a timer callback
// keeps scheduling new work forever.
const maxTimerLoops = 100000

type timerTask struct {
	id        int64
	due       int64 // virtual or wall-clock milliseconds
	interval  int64 // 0 for one-shot
	fn        goja.Callable
	args      []goja.Value
	cancelled bool
	seq       int64 // insertion order, breaks due ties
}

type timerHeap []*timerTask

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerTask)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// FakeTimers owns every scheduling primitive the sandbox exposes: timers,
// intervals, immediates, and the tick queue. In fake mode a virtual clock
// advances only when a run control fires; in real mode due times come from
// the wall clock and the host pumps with RunDueTimers. Everything runs on
// the single sandbox thread.
type FakeTimers struct {
	vm      *goja.Runtime
	useFake bool

	now    int64 // virtual clock, milliseconds
	nextID int64
	nextSeq int64

	timers     timerHeap
	byID       map[int64]*timerTask
	ticks      []*timerTask
	immediates []*timerTask
}

func newFakeTimers(vm *goja.Runtime) *FakeTimers {
	return &FakeTimers{
		vm:   vm,
		byID: make(map[int64]*timerTask),
	}
}

// install wires the scheduling globals into the sandbox
func (t *FakeTimers) install() {
	t.vm.Set("setTimeout", t.jsSetTimeout)
	t.vm.Set("clearTimeout", t.jsClearTimer)
	t.vm.Set("setInterval", t.jsSetInterval)
	t.vm.Set("clearInterval", t.jsClearTimer)
	t.vm.Set("setImmediate", t.jsSetImmediate)
	t.vm.Set("clearImmediate", t.jsClearImmediate)

	process := t.vm.NewObject()
	process.Set("nextTick", t.jsNextTick)
	t.vm.Set("process", process)
}

// UseFakeTimers switches due times to the virtual clock
func (t *FakeTimers) UseFakeTimers() { t.useFake = true }

// UseRealTimers switches due times back to the wall clock
func (t *FakeTimers) UseRealTimers() { t.useFake = false }

// ClearAllTimers drops every scheduled timer and interval
func (t *FakeTimers) ClearAllTimers() {
	t.timers = nil
	t.byID = make(map[int64]*timerTask)
}

// Reset drops all queues and both counters
func (t *FakeTimers) Reset() {
	t.ClearAllTimers()
	t.ticks = nil
	t.immediates = nil
	t.now = 0
	t.nextID = 0
}

// RunAllTicks drains the nextTick queue, including ticks enqueued while
// draining.
func (t *FakeTimers) RunAllTicks() {
	t.drainQueue(&t.ticks, "ticks")
}

// RunAllImmediates drains the immediate queue, including newly enqueued ones
func (t *FakeTimers) RunAllImmediates() {
	t.drainQueue(&t.immediates, "immediates")
}

// RunAllTimers runs every scheduled timer, advancing the virtual clock to
// each due time; intervals reschedule, so a never-cancelled interval hits
// the loop bound.
func (t *FakeTimers) RunAllTimers() {
	loops := 0
	for len(t.timers) > 0 {
		loops++
		if loops > maxTimerLoops {
			panic(t.vm.NewGoError(fmt.Errorf("ran %d timers and there are still more; bailing out of a likely infinite loop", maxTimerLoops)))
		}
		t.runNext()
	}
}

// RunOnlyPendingTimers runs the timers scheduled at the moment of the call;
// work they schedule stays queued for a later pass.
func (t *FakeTimers) RunOnlyPendingTimers() {
	snapshot := make([]*timerTask, len(t.timers))
	copy(snapshot, t.timers)
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].due != snapshot[j].due {
			return snapshot[i].due < snapshot[j].due
		}
		return snapshot[i].seq < snapshot[j].seq
	})
	for _, task := range snapshot {
		if task.cancelled {
			continue
		}
		t.removeTask(task)
		t.fire(task)
	}
}

// removeTask takes a specific task out of the heap
func (t *FakeTimers) removeTask(task *timerTask) {
	for i, candidate := range t.timers {
		if candidate == task {
			heap.Remove(&t.timers, i)
			return
		}
	}
}

// RunDueTimers runs timers whose wall-clock due time has passed; only
// meaningful in real-timer mode, where the host pumps.
func (t *FakeTimers) RunDueTimers() {
	nowMs := time.Now().UnixMilli()
	for len(t.timers) > 0 && t.timers[0].due <= nowMs {
		t.runNext()
	}
}

// runNext pops and executes the earliest timer, rescheduling intervals
func (t *FakeTimers) runNext() {
	task := heap.Pop(&t.timers).(*timerTask)
	if task.cancelled {
		delete(t.byID, task.id)
		return
	}
	t.fire(task)
}

// fire advances the clock to the task's due time, reschedules intervals
// before invoking the callback (so a clearInterval inside it sticks), and
// runs it.
func (t *FakeTimers) fire(task *timerTask) {
	if task.due > t.now {
		t.now = task.due
	}
	if task.interval > 0 {
		next := *task
		next.due = t.now + task.interval
		next.seq = t.nextSeq
		t.nextSeq++
		t.byID[next.id] = &next
		heap.Push(&t.timers, &next)
	} else {
		delete(t.byID, task.id)
	}
	task.fn(goja.Undefined(), task.args...)
}

func (t *FakeTimers) drainQueue(queue *[]*timerTask, what string) {
	loops := 0
	for len(*queue) > 0 {
		loops++
		if loops > maxTimerLoops {
			panic(t.vm.NewGoError(fmt.Errorf("ran %d %s and there are still more; bailing out of a likely infinite loop", maxTimerLoops, what)))
		}
		task := (*queue)[0]
		*queue = (*queue)[1:]
		if task.cancelled {
			continue
		}
		task.fn(goja.Undefined(), task.args...)
	}
}

func (t *FakeTimers) schedule(fn goja.Callable, args []goja.Value, delay, interval int64) int64 {
	if delay < 0 {
		delay = 0
	}
	base := t.now
	if !t.useFake {
		base = time.Now().UnixMilli()
	}
	t.nextID++
	task := &timerTask{
		id:       t.nextID,
		due:      base + delay,
		interval: interval,
		fn:       fn,
		args:     args,
		seq:      t.nextSeq,
	}
	t.nextSeq++
	t.byID[task.id] = task
	heap.Push(&t.timers, task)
	return task.id
}

func (t *FakeTimers) callbackArgs(call goja.FunctionCall, from int) (goja.Callable, []goja.Value) {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(t.vm.NewTypeError("callback must be a function"))
	}
	var args []goja.Value
	if len(call.Arguments) > from {
		args = append(args, call.Arguments[from:]...)
	}
	return fn, args
}

func (t *FakeTimers) jsSetTimeout(call goja.FunctionCall) goja.Value {
	fn, args := t.callbackArgs(call, 2)
	return t.vm.ToValue(t.schedule(fn, args, call.Argument(1).ToInteger(), 0))
}

func (t *FakeTimers) jsSetInterval(call goja.FunctionCall) goja.Value {
	fn, args := t.callbackArgs(call, 2)
	interval := call.Argument(1).ToInteger()
	if interval < 1 {
		interval = 1
	}
	return t.vm.ToValue(t.schedule(fn, args, interval, interval))
}

func (t *FakeTimers) jsClearTimer(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if task, ok := t.byID[id]; ok {
		task.cancelled = true
		delete(t.byID, id)
	}
	return goja.Undefined()
}

func (t *FakeTimers) jsSetImmediate(call goja.FunctionCall) goja.Value {
	fn, args := t.callbackArgs(call, 1)
	t.nextID++
	task := &timerTask{id: t.nextID, fn: fn, args: args}
	t.immediates = append(t.immediates, task)
	t.byID[task.id] = task
	return t.vm.ToValue(task.id)
}

func (t *FakeTimers) jsClearImmediate(call goja.FunctionCall) goja.Value {
	return t.jsClearTimer(call)
}

func (t *FakeTimers) jsNextTick(call goja.FunctionCall) goja.Value {
	fn, args := t.callbackArgs(call, 1)
	t.ticks = append(t.ticks, &timerTask{fn: fn, args: args})
	return goja.Undefined()
}

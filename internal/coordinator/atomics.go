package coordinator

import "sync/atomic"

type atomicBool struct{ v atomic.Bool }

func (a *atomicBool) set(val bool) { a.v.Store(val) }
func (a *atomicBool) get() bool    { return a.v.Load() }

type atomicInt struct{ v atomic.Int64 }

func (a *atomicInt) get() int   { return int(a.v.Load()) }
func (a *atomicInt) add(d int64) { a.v.Add(d) }

// Package cycle implements C10: the trial-deletion cycle detector that
// reclaims actors kept alive only by a reference cycle among
// themselves, none of which distributed reference counting alone can
// ever bring to zero.
//
// Grounded on
// _examples/original_source/src/libponyrt/gc/cycle.c, read in full: a
// detector that tracks one view per actor that has ever blocked,
// applies rc deltas reported on block, three-colors the view graph
// (black/grey/white) with a mark-then-sweep trial deletion pass,
// groups any all-white component into a "perceived" cycle, and only
// actually collects it once every member has echoed back a CONF/ACK
// round trip confirming it is still blocked and still part of that
// same cycle.
//
// Deliberate deviation: this is generic over A comparable (an actor
// identity), the same device internal/rt/gcrc uses, so the detector
// has no import-time dependency on the actor package (internal/rt).
// Every side effect the original has the detector actor perform by
// sending itself pony_msg_t's (ACTORMSG_ISBLOCKED queries,
// ACTORMSG_CONF broadcasts, invoking an actor's finalizer, sending
// gc_release, destroying the actor) is instead expressed through a
// small Sink[A] interface the caller implements — internal/rt's
// Runtime implements it with real message sends. The
// original's resumable check_blocked scan walks a robin-hood hashmap
// by raw slot index so it can pick up again from wherever the last
// call left off; Go maps have no such stable, resumable index, so
// views are additionally tracked in an `order` slice with a cursor,
// giving the same "scan at most N actors per call, continue from
// there next time" behaviour without depending on map iteration order.
// order is kept in sync with views via swap-remove (an `index` side
// table maps an actor to its current slot) rather than left to grow
// across the detector's lifetime as views are destroyed, the same
// shrink-on-remove behaviour ponyint_viewmap_remove gives the
// original's backing hashmap.
package cycle

import (
	"github.com/velalang/velac/internal/cos"
	"github.com/velalang/velac/internal/xdebug"
)

const maxCheckBlocked = 1000 // CD_MAX_CHECK_BLOCKED

// Color is a trial-deletion mark, mirroring ponyint_color_t.
type Color uint8

const (
	Black Color = iota
	Grey
	White
)

// Sink receives every externally-visible effect the detector produces.
// A real actor runtime implements this by routing each call through
// the normal message-send path so it serializes with everything else
// the target actor does.
type Sink[A comparable] interface {
	// QueryBlocked asks actor to report its current blocked/rc state
	// (ACTORMSG_ISBLOCKED), which eventually arrives back as a call to
	// Block or Unblock.
	QueryBlocked(actor A)
	// SendConf tells actor it is believed to be part of perceived
	// cycle token, asking it to ACK back if that is still accurate
	// (ACTORMSG_CONF).
	SendConf(actor A, token uint64)
	// Finalize invokes actor's user-defined finalizer ahead of
	// destruction (ponyint_actor_final).
	Finalize(actor A)
	// SendRelease tells actor to drop its distributed-RC claims on
	// whatever it still references (ponyint_actor_sendrelease).
	SendRelease(actor A)
	// Destroy frees actor's runtime resources for good
	// (ponyint_actor_destroy).
	Destroy(actor A)
}

type viewRef[A comparable] struct {
	view *view[A]
	rc   uint64
}

type view[A comparable] struct {
	actor     A
	rc        uint64
	viewRC    uint32
	blocked   bool
	deferred  bool
	color     Color
	refs      map[A]*viewRef[A]
	perceived *perceived[A]
}

type perceived[A comparable] struct {
	token uint64
	ack   uint64
	views map[A]*view[A]
}

// Detector is one trial-deletion cycle detector instance, the
// generic-over-identity analogue of detector_t.
type Detector[A comparable] struct {
	sink Sink[A]

	nextToken uint64

	views map[A]*view[A]
	order []A       // resumable CheckBlocked scan order, kept in sync with views
	index map[A]int // actor's current slot in order, for O(1) swap-remove
	cursor int

	deferred  map[A]*view[A]
	perceived map[uint64]*perceived[A]

	attempted, detected, collected int
	created, destroyed              int
}

// New creates a detector that reports effects through sink.
func New[A comparable](sink Sink[A]) *Detector[A] {
	return &Detector[A]{
		sink:      sink,
		views:     make(map[A]*view[A]),
		index:     make(map[A]int),
		deferred:  make(map[A]*view[A]),
		perceived: make(map[uint64]*perceived[A]),
	}
}

func (d *Detector[A]) getView(actor A, create bool) *view[A] {
	v, ok := d.views[actor]
	if ok || !create {
		return v
	}

	v = &view[A]{actor: actor, viewRC: 1, refs: make(map[A]*viewRef[A])}
	d.views[actor] = v
	d.index[actor] = len(d.order)
	d.order = append(d.order, actor)
	d.created++
	return v
}

func (d *Detector[A]) viewFree(v *view[A]) {
	v.viewRC--
}

// removeFromOrder drops actor from the resumable CheckBlocked scan
// order via swap-remove, the same O(1) amortized cost as the original's
// ponyint_viewmap_remove rather than letting order grow unboundedly
// across the detector's lifetime as views are collected.
func (d *Detector[A]) removeFromOrder(actor A) {
	idx, ok := d.index[actor]
	if !ok {
		return
	}

	last := len(d.order) - 1
	if idx != last {
		moved := d.order[last]
		d.order[idx] = moved
		d.index[moved] = idx
	}
	d.order = d.order[:last]
	delete(d.index, actor)
}

func (d *Detector[A]) applyDelta(v *view[A], delta map[A]uint64) {
	for actor, rc := range delta {
		find := d.getView(actor, rc > 0)
		if find == nil {
			continue
		}

		if rc > 0 {
			ref, ok := v.refs[actor]
			if !ok {
				ref = &viewRef[A]{view: find}
				v.refs[actor] = ref
				find.viewRC++
			}
			ref.rc = rc
		} else if ref, ok := v.refs[actor]; ok {
			delete(v.refs, actor)
			d.viewFree(ref.view)
		}
	}
}

func markGrey[A comparable](v *view[A], rc uint64) bool {
	if !v.blocked {
		return false
	}

	if v.deferred {
		v.deferred = false
	}

	v.rc -= rc // intentional wraparound when rc exceeds v.rc, same as the original: only ever tested for non-zero

	if v.color == Grey {
		return false
	}
	v.color = Grey
	return true
}

func scanGrey[A comparable](d *Detector[A], start *view[A], rc uint64) {
	stack := []viewRef[A]{{view: start, rc: rc}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if markGrey(top.view, top.rc) {
			for _, child := range top.view.refs {
				stack = append(stack, *child)
			}
		}
	}
	_ = d
}

func markBlack[A comparable](v *view[A], rc uint64, count *int) bool {
	if !v.blocked {
		return false
	}

	v.rc += rc

	if v.color == Black {
		return false
	}
	if v.color == White {
		*count++
	}
	v.color = Black
	return true
}

func scanBlack[A comparable](start *view[A], rc uint64) int {
	count := 0
	stack := []viewRef[A]{{view: start, rc: rc}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if markBlack(top.view, top.rc, &count) {
			for _, child := range top.view.refs {
				stack = append(stack, *child)
			}
		}
	}
	return count
}

func markWhite[A comparable](v *view[A], count *int) bool {
	if v.color != Grey {
		return false
	}

	if v.rc > 0 {
		*count -= scanBlack(v, 0)
		xdebug.Assert(*count >= 0, "cycle: white count went negative while backing out a blackened view")
		return false
	}

	v.color = White
	*count++
	return true
}

func scanWhite[A comparable](start *view[A]) int {
	count := 0
	stack := []viewRef[A]{{view: start, rc: 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if markWhite(top.view, &count) {
			for _, child := range top.view.refs {
				stack = append(stack, *child)
			}
		}
	}
	return count
}

func collectView[A comparable](per *perceived[A], v *view[A], rc uint64, count *int) bool {
	if v.color == White {
		v.perceived = per
		per.views[v.actor] = v
	}
	return markBlack(v, rc, count)
}

func collectWhite[A comparable](per *perceived[A], start *view[A], rc uint64) int {
	count := 0
	stack := []viewRef[A]{{view: start, rc: rc}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if collectView(per, top.view, top.rc, &count) {
			for _, child := range top.view.refs {
				stack = append(stack, *child)
			}
		}
	}
	return count
}

func (d *Detector[A]) sendConf(per *perceived[A]) {
	for actor := range per.views {
		d.sink.SendConf(actor, per.token)
	}
}

// detect runs one trial-deletion pass rooted at v: grey everything v
// can reach, then whiten whatever grey node turns out to have no
// remaining external support. A non-empty white component is a
// perceived cycle, broadcast for confirmation.
func (d *Detector[A]) detect(v *view[A]) bool {
	scanGrey(d, v, 0)
	count := scanWhite(v)
	if count == 0 {
		return false
	}

	d.detected++

	per := &perceived[A]{token: d.nextToken, views: make(map[A]*view[A], count)}
	d.nextToken++
	d.perceived[per.token] = per

	collectWhite(per, v, 0)
	d.sendConf(per)
	return true
}

func (d *Detector[A]) runDeferred() {
	d.attempted++

	for actor, v := range d.deferred {
		delete(d.deferred, actor)
		v.deferred = false
		d.detect(v)
	}
}

func (d *Detector[A]) expire(v *view[A]) {
	per := v.perceived
	if per == nil {
		return
	}

	for _, pv := range per.views {
		pv.perceived = nil
	}

	delete(d.perceived, per.token)
	v.perceived = nil
}

// Created registers a freshly-spawned actor, the analogue of
// ponyint_cycle_actor_created / actor_created.
func (d *Detector[A]) Created(actor A) {
	d.getView(actor, true)
}

// Destroyed drops bookkeeping for an actor torn down outside the
// detector's own collect path.
func (d *Detector[A]) Destroyed(actor A) {
	v := d.getView(actor, false)
	if v == nil {
		return
	}
	delete(d.views, actor)
	d.removeFromOrder(actor)
	d.viewFree(v)
}

// Block records that actor has gone idle with reference count rc and
// an optional set of rc deltas against actors it referenced since its
// last block. It is the detector side of ponyint_cycle_block /
// block.
func (d *Detector[A]) Block(actor A, rc uint64, delta map[A]uint64) {
	v := d.getView(actor, true)

	v.rc = rc
	if delta != nil {
		d.applyDelta(v, delta)
	}

	v.blocked = true
	d.expire(v)
	xdebug.Assert(v.perceived == nil, "cycle: view still perceived after expire in Block")

	if !v.deferred {
		d.deferred[actor] = v
		v.deferred = true
	}
}

// Unblock records that actor has resumed running, invalidating any
// cycle it was perceived to be part of. Mirrors unblock.
func (d *Detector[A]) Unblock(actor A) {
	v, ok := d.views[actor]
	if !ok {
		return
	}

	v.blocked = false
	if v.deferred {
		delete(d.deferred, actor)
		v.deferred = false
	}
	d.expire(v)
}

// Ack records a CONF acknowledgement for token. Once every member of
// that perceived cycle has replied, the whole group is collected and
// returned; otherwise it returns ok=false. Mirrors ack.
func (d *Detector[A]) Ack(token uint64) (collected []A, ok bool) {
	per, found := d.perceived[token]
	if !found {
		return nil, false
	}

	per.ack++
	if per.ack != uint64(len(per.views)) {
		return nil, false
	}

	return d.collect(per), true
}

// collect reclaims every actor in a confirmed cycle: run finalizers,
// release any distributed-RC claims on actors outside the cycle, then
// destroy each member. Mirrors collect.
func (d *Detector[A]) collect(per *perceived[A]) []A {
	delete(d.perceived, per.token)
	xdebug.Assertf(len(per.views) == int(per.ack), "cycle: collecting perceived cycle with ack %d != members %d", per.ack, len(per.views))

	result := make([]A, 0, len(per.views))
	for actor, v := range per.views {
		if v.deferred {
			delete(d.deferred, actor)
		}
		d.sink.Finalize(actor)
		result = append(result, actor)
	}

	for actor := range per.views {
		d.sink.SendRelease(actor)
	}

	for actor, v := range per.views {
		d.sink.Destroy(actor)
		delete(d.views, actor)
		d.removeFromOrder(actor)
		d.viewFree(v)
	}

	d.destroyed += len(per.views)
	d.collected++

	return result
}

// CheckBlocked queries up to maxCheckBlocked actors (or 10% of all
// known actors, whichever is larger) for their blocked status,
// resuming from wherever the previous call left off, then runs a
// trial-deletion pass over every view that deferred one. Mirrors
// check_blocked.
func (d *Detector[A]) CheckBlocked() {
	total := len(d.order)
	if total == 0 {
		d.runDeferred()
		return
	}

	limit := cos.Max(total/10, maxCheckBlocked)

	n := 0
	for ; n < limit && n < total; n++ {
		actor := d.order[(d.cursor+n)%total]
		if v, ok := d.views[actor]; ok && !v.blocked {
			d.sink.QueryBlocked(actor)
		}
	}
	d.cursor = (d.cursor + n) % total

	d.runDeferred()
}

// Terminate finalizes and destroys every actor the detector still
// tracks, the detector's own shutdown path (ponyint_cycle_terminate /
// final). force is accepted so a Detector[A] satisfies the scheduler's
// CycleDetector interface directly; trial deletion during shutdown
// always reclaims everything regardless of cycles, so force has no
// further effect here.
func (d *Detector[A]) Terminate(force bool) {
	_ = force

	for actor := range d.views {
		d.sink.Finalize(actor)
		d.sink.Destroy(actor)
	}

	d.views = make(map[A]*view[A])
	d.order = nil
	d.index = make(map[A]int)
	d.cursor = 0
	d.deferred = make(map[A]*view[A])
	d.perceived = make(map[uint64]*perceived[A])
}

// Stats reports the running totals the original exposes for
// diagnostics (attempted/detected/collected passes, created/destroyed
// actor counts).
func (d *Detector[A]) Stats() (attempted, detected, collected, created, destroyed int) {
	return d.attempted, d.detected, d.collected, d.created, d.destroyed
}

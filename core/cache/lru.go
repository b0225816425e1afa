package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key  string
	val  any
	opts []PutOption
}

// LRU is a bounded cache owned by a single goroutine. All access goes
// through channels, so no locking is needed around the list.
type LRU struct {
	getCh     chan getReq
	putCh     chan putReq
	delCh     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}

	l := &LRU{
		getCh: make(chan getReq),
		putCh: make(chan putReq),
		delCh: make(chan string),
		done:  make(chan struct{}),
	}

	go l.run(opts.Size)

	return l
}

func (l *LRU) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *LRU) Get(key string) (any, bool) {
	if l.closed() {
		return nil, false
	}
	resp := make(chan getResp, 1)
	select {
	case l.getCh <- getReq{key: key, resp: resp}:
	case <-l.done:
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	if l.closed() {
		return
	}
	select {
	case l.putCh <- putReq{key: key, val: val, opts: opts}:
	case <-l.done:
	}
}

func (l *LRU) Delete(key string) {
	if l.closed() {
		return
	}
	select {
	case l.delCh <- key:
	case <-l.done:
	}
}

// Close stops the owning goroutine. Calls after Close are no-ops and Get misses.
func (l *LRU) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *LRU) run(size int) {
	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-l.done:
			return

		case req := <-l.getCh:
			ele, ok := items[req.key]
			if !ok {
				req.resp <- getResp{}
				continue
			}
			e := ele.Value.(*entry)
			if e.expired(time.Now()) {
				remove(ele)
				req.resp <- getResp{}
				continue
			}
			ll.MoveToFront(ele)
			req.resp <- getResp{val: e.val, ok: true}

		case req := <-l.putCh:
			po := PutOptions{}
			for _, opt := range req.opts {
				opt(&po)
			}
			var expiresAt time.Time
			if po.TTL > 0 {
				expiresAt = time.Now().Add(po.TTL)
			}

			if ele, ok := items[req.key]; ok {
				ll.MoveToFront(ele)
				e := ele.Value.(*entry)
				e.val = req.val
				e.expiresAt = expiresAt
				continue
			}
			items[req.key] = ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
			if ll.Len() > size {
				if last := ll.Back(); last != nil {
					remove(last)
				}
			}

		case key := <-l.delCh:
			if ele, ok := items[key]; ok {
				remove(ele)
			}
		}
	}
}

var _ Cache = (*LRU)(nil)

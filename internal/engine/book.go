package engine

import (
	"container/list"

	"github.com/google/btree"
)

const levelDegree = 16

// priceLevel holds FIFO orders for one price.
type priceLevel struct {
	price  float64
	orders *list.List // of *Order, oldest first
}

func byPrice(a, b *priceLevel) bool {
	return a.price < b.price
}

// sideBook is one side of a pair's book. Bids are walked from the highest
// price level down, asks from the lowest up; inside a level orders keep
// their arrival order.
type sideBook struct {
	side   Side
	levels *btree.BTreeG[*priceLevel]
	index  map[string]*list.Element
}

func newSideBook(side Side) *sideBook {
	return &sideBook{
		side:   side,
		levels: btree.NewG(levelDegree, byPrice),
		index:  make(map[string]*list.Element),
	}
}

func (b *sideBook) len() int {
	return len(b.index)
}

func (b *sideBook) best() *priceLevel {
	var lvl *priceLevel
	if b.side == Buy {
		lvl, _ = b.levels.Max()
	} else {
		lvl, _ = b.levels.Min()
	}
	return lvl
}

// head returns the order that matches first, or nil on an empty side.
func (b *sideBook) head() *Order {
	lvl := b.best()
	if lvl == nil {
		return nil
	}
	return lvl.orders.Front().Value.(*Order)
}

func (b *sideBook) level(price float64) (*priceLevel, bool) {
	return b.levels.Get(&priceLevel{price: price})
}

func (b *sideBook) insert(o *Order) {
	lvl, ok := b.level(o.Price)
	if !ok {
		lvl = &priceLevel{price: o.Price, orders: list.New()}
		b.levels.ReplaceOrInsert(lvl)
	}
	b.index[o.ID] = lvl.orders.PushBack(o)
}

func (b *sideBook) remove(id string) (*Order, bool) {
	elem, ok := b.index[id]
	if !ok {
		return nil, false
	}
	o := elem.Value.(*Order)
	lvl, _ := b.level(o.Price)
	lvl.orders.Remove(elem)
	if lvl.orders.Len() == 0 {
		b.levels.Delete(lvl)
	}
	delete(b.index, id)
	return o, true
}

// walk visits orders best-first until fn returns false.
func (b *sideBook) walk(fn func(*Order) bool) {
	visit := func(lvl *priceLevel) bool {
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			if !fn(e.Value.(*Order)) {
				return false
			}
		}
		return true
	}
	if b.side == Buy {
		b.levels.Descend(visit)
	} else {
		b.levels.Ascend(visit)
	}
}

type pairBook struct {
	bids *sideBook
	asks *sideBook
}

func newPairBook() *pairBook {
	return &pairBook{
		bids: newSideBook(Buy),
		asks: newSideBook(Sell),
	}
}

func (p *pairBook) side(s Side) *sideBook {
	if s == Buy {
		return p.bids
	}
	return p.asks
}

func (p *pairBook) empty() bool {
	return p.bids.len() == 0 && p.asks.len() == 0
}

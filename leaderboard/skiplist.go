package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"localloop/core"
)

// SkipList orders users by (points desc, user asc) with O(log n) updates.

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
}

type SkipList struct {
	mu     sync.RWMutex
	head   *node
	lvl    int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// zero seed only affects level balance, not ordering
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		head:   &node{},
		lvl:    1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func less(a, b Entry) bool {
	if a.Points == b.Points {
		return a.User < b.User
	}
	return a.Points > b.Points
}

// Update inserts or moves user to a new total.
func (s *SkipList) Update(user core.UserID, points int64, badge string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[user]; ok {
		// remove old node
		s.removeLocked(user, old.e)
	}
	e := Entry{User: user, Points: points, Badge: badge}
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.byUser[user] = n
}

func (s *SkipList) removeLocked(user core.UserID, e Entry) {
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.User != user {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	delete(s.byUser, user)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.removeLocked(user, n.e)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, min(n, len(s.byUser)))
	cur := s.head.next[0]
	for cur != nil && len(out) < n {
		e := cur.e
		e.Rank = len(out) + 1
		out = append(out, e)
		cur = cur.next[0]
	}
	return out
}

// Len reports how many users are ranked.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.byUser[user]
	if !ok {
		return Entry{}, false
	}
	// rank is the position along the bottom level
	rank := 1
	for cur := s.head.next[0]; cur != nil && cur != target; cur = cur.next[0] {
		rank++
	}
	e := target.e
	e.Rank = rank
	return e, true
}

// Around returns up to radius users on each side of user, ranked, with user
// in the middle. It reports false when user is not on the board.
func (s *SkipList) Around(user core.UserID, radius int) ([]Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.byUser[user]
	if !ok {
		return nil, false
	}
	if radius < 0 {
		radius = 0
	}
	// ring buffer of the last radius nodes seen before target
	before := make([]Entry, 0, radius)
	rank := 1
	cur := s.head.next[0]
	for ; cur != nil && cur != target; cur = cur.next[0] {
		e := cur.e
		e.Rank = rank
		if radius > 0 {
			if len(before) == radius {
				before = append(before[:0], before[1:]...)
			}
			before = append(before, e)
		}
		rank++
	}
	out := make([]Entry, 0, len(before)+1+radius)
	out = append(out, before...)
	for i := 0; cur != nil && i <= radius; i++ {
		e := cur.e
		e.Rank = rank
		out = append(out, e)
		rank++
		cur = cur.next[0]
	}
	return out, true
}

var _ Board = (*SkipList)(nil)

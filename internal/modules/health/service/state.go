package service

import (
	"sync/atomic"
	"time"
)

// State — готовность процесса и счётчик живых подписчиков потока событий.
type State struct {
	ready     atomic.Bool
	startedAt time.Time
	streams   atomic.Int32
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) StreamOpened()  { s.streams.Add(1) }
func (s *State) StreamClosed()  { s.streams.Add(-1) }
func (s *State) Streams() int32 { return s.streams.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

// Package store keeps assembled programs so they can be run again by id.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("program not found")

type Program struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      []byte    `json:"code"`
	Digest    Digest    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

// NewProgram stamps code with a fresh id.
func NewProgram(name string, code []byte) *Program {
	return &Program{
		ID:        uuid.New().String(),
		Name:      name,
		Code:      code,
		Digest:    DigestOf(code),
		CreatedAt: time.Now().UTC(),
	}
}

type Storager interface {
	Put(p *Program) error
	Get(id string) (*Program, error)
	// List returns programs newest first.
	List() ([]*Program, error)
	Close() error
}

// MemStore serializes all access through one goroutine.
type MemStore struct {
	putChan  chan *Program
	readChan chan *getRequest
	listChan chan chan<- []*Program
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
	data     map[string]*Program
}

type getRequest struct {
	key      string
	response chan<- *lookupResult
}

type lookupResult struct {
	p      *Program
	exists bool
}

var ErrClosed = errors.New("store closed")

func NewMemStore() *MemStore {
	s := &MemStore{
		putChan:  make(chan *Program),
		readChan: make(chan *getRequest),
		listChan: make(chan chan<- []*Program),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		data:     make(map[string]*Program),
	}

	go s.handleAccess()
	return s
}

func (s *MemStore) handleAccess() {
	defer close(s.done)
	for {
		select {
		case p := <-s.putChan:
			s.data[p.ID] = p
		case req := <-s.readChan:
			p, ok := s.data[req.key]
			req.response <- &lookupResult{
				p:      p,
				exists: ok,
			}
		case resp := <-s.listChan:
			out := make([]*Program, 0, len(s.data))
			for _, p := range s.data {
				out = append(out, p)
			}
			resp <- out
		case <-s.quit:
			return
		}
	}
}

func (s *MemStore) Put(p *Program) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("put: program needs an id")
	}
	select {
	case s.putChan <- p:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *MemStore) Get(id string) (*Program, error) {
	respCh := make(chan *lookupResult, 1)
	req := &getRequest{
		key:      id,
		response: respCh,
	}
	select {
	case s.readChan <- req:
	case <-s.done:
		return nil, ErrClosed
	}
	resp := <-respCh
	if !resp.exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return resp.p, nil
}

func (s *MemStore) List() ([]*Program, error) {
	respCh := make(chan []*Program, 1)
	select {
	case s.listChan <- respCh:
	case <-s.done:
		return nil, ErrClosed
	}
	out := <-respCh
	sortNewest(out)
	return out, nil
}

func (s *MemStore) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func sortNewest(ps []*Program) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}

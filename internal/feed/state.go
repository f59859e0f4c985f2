// Package feed accumulates /sales pages for a scrolling client.
//
// Reduce is a pure transition function over State. Controller drives it from
// UI triggers and runs the fetches it requests.
package feed

import (
	"slices"

	"sales-dashboard/internal/models"
)

const (
	DefaultPageSize    = 20
	DefaultMaxRetained = 200
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoadingInitial
	PhaseLoaded
	PhaseLoadingMore
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseLoadingInitial:
		return "loading_initial"
	case PhaseLoaded:
		return "loaded"
	case PhaseLoadingMore:
		return "loading_more"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// Request is one page fetch. Generation ties it to the filter it was issued
// for; Seq identifies the attempt.
type Request struct {
	Generation uint64
	Seq        uint64
	Spec       models.QuerySpec
	Append     bool
}

// State is the accumulated list. Records holds the retained window, which
// starts at dataset offset WindowStart; NextOffset is where the next page
// begins. WindowStart+len(Records) == NextOffset whenever Phase is loaded.
type State struct {
	Phase      Phase
	Filter     models.QuerySpec
	Generation uint64

	Records     []models.SalesRecord
	WindowStart int
	NextOffset  int
	Total       int
	HasMore     bool

	InFlight *Request
	Failed   *Request
	Err      string

	PageSize    int
	MaxRetained int

	seq uint64
}

// NewState returns an idle state. Non-positive sizes fall back to the
// defaults; maxRetained is raised to at least one page.
func NewState(pageSize, maxRetained int) State {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	maxRetained = max(maxRetained, pageSize)
	return State{PageSize: pageSize, MaxRetained: maxRetained}
}

type Event interface{ isEvent() }

type (
	Mount         struct{}
	FilterChanged struct{ Filter models.QuerySpec }
	ClearFilter   struct{}
	Reset         struct{}
	LoadMore      struct{}
	Retry         struct{}
	PageLoaded    struct {
		Request Request
		Result  models.QueryResult
	}
	PageFailed struct {
		Request Request
		Err     error
	}
)

func (Mount) isEvent()         {}
func (FilterChanged) isEvent() {}
func (ClearFilter) isEvent()   {}
func (Reset) isEvent()         {}
func (LoadMore) isEvent()      {}
func (Retry) isEvent()         {}
func (PageLoaded) isEvent()    {}
func (PageFailed) isEvent()    {}

// Reduce returns the next state and, when a fetch is needed, the request
// to run. It never modifies s.Records in place.
func Reduce(s State, ev Event) (State, *Request) {
	if s.PageSize <= 0 || s.MaxRetained <= 0 {
		sized := NewState(s.PageSize, s.MaxRetained)
		s.PageSize, s.MaxRetained = sized.PageSize, sized.MaxRetained
	}

	switch e := ev.(type) {
	case Mount:
		if s.Phase != PhaseIdle {
			return s, nil
		}
		return restart(s)

	case FilterChanged:
		s.Filter = e.Filter.Filter()
		return restart(s)

	case ClearFilter:
		s.Filter = models.QuerySpec{}
		return restart(s)

	case Reset:
		return restart(s)

	case LoadMore:
		if s.Phase != PhaseLoaded || !s.HasMore {
			return s, nil
		}
		s.Phase = PhaseLoadingMore
		return issue(s, s.Filter.WithPage(s.NextOffset, s.PageSize), true)

	case Retry:
		if s.Phase != PhaseError || s.Failed == nil {
			return s, nil
		}
		failed := *s.Failed
		s.Failed, s.Err = nil, ""
		if failed.Append {
			s.Phase = PhaseLoadingMore
		} else {
			s.Phase = PhaseLoadingInitial
		}
		return issue(s, failed.Spec, failed.Append)

	case PageLoaded:
		if !current(s, e.Request) {
			return s, nil
		}
		return applyPage(s, e.Request, e.Result), nil

	case PageFailed:
		if !current(s, e.Request) {
			return s, nil
		}
		failed := e.Request
		s.Phase = PhaseError
		s.InFlight = nil
		s.Failed = &failed
		s.Err = "fetch failed"
		if e.Err != nil {
			s.Err = e.Err.Error()
		}
		return s, nil
	}
	return s, nil
}

// restart drops everything accumulated under the previous generation and
// requests the first page.
func restart(s State) (State, *Request) {
	s.Generation++
	s.Phase = PhaseLoadingInitial
	s.Records = nil
	s.WindowStart, s.NextOffset, s.Total = 0, 0, 0
	s.HasMore = false
	s.Failed, s.Err = nil, ""
	return issue(s, s.Filter.WithPage(0, s.PageSize), false)
}

func issue(s State, spec models.QuerySpec, appendPage bool) (State, *Request) {
	s.seq++
	req := &Request{Generation: s.Generation, Seq: s.seq, Spec: spec, Append: appendPage}
	inflight := *req
	s.InFlight = &inflight
	return s, req
}

func current(s State, req Request) bool {
	return s.InFlight != nil && req.Generation == s.Generation && req.Seq == s.InFlight.Seq
}

func applyPage(s State, req Request, res models.QueryResult) State {
	offset := req.Spec.Offset
	if req.Append {
		s.Records = append(slices.Clip(s.Records), res.Data...)
	} else {
		s.Records = slices.Clone(res.Data)
		s.WindowStart = offset
	}

	s.NextOffset = offset + len(res.Data)
	s.Total = res.Total
	s.HasMore = len(res.Data) > 0 && s.NextOffset < s.Total
	s.Phase = PhaseLoaded
	s.InFlight = nil

	if excess := len(s.Records) - s.MaxRetained; excess > 0 {
		s.Records = slices.Clone(s.Records[excess:])
		s.WindowStart += excess
	}
	return s
}

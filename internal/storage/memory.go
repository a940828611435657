package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SurveyGroup is one field grouping under a survey document.
type SurveyGroup struct {
	Created bool
}

// Response is a respondent's answer document.
type Response struct {
	SurveyID  string
	Creator   string
	Started   bool
	Completed bool
}

// MemoryRecords is an in-process document tree keyed by path.
type MemoryRecords struct {
	mu        sync.RWMutex
	surveys   map[string]map[string]*SurveyGroup
	responses map[string]map[string]*Response
	index     map[string]ResponseRef
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{
		surveys:   make(map[string]map[string]*SurveyGroup),
		responses: make(map[string]map[string]*Response),
		index:     make(map[string]ResponseRef),
	}
}

// PutSurvey creates surveys/{surveyID} with the given field groups.
func (m *MemoryRecords) PutSurvey(surveyID string, groups ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	survey, ok := m.surveys[surveyID]
	if !ok {
		survey = make(map[string]*SurveyGroup)
		m.surveys[surveyID] = survey
	}
	for _, group := range groups {
		if _, ok := survey[group]; !ok {
			survey[group] = &SurveyGroup{}
		}
	}
}

// PutResponse creates or replaces responses/{ref.Bucket}/{ref.ID}.
func (m *MemoryRecords) PutResponse(ref ResponseRef, resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.responses[ref.Bucket]
	if !ok {
		bucket = make(map[string]*Response)
		m.responses[ref.Bucket] = bucket
	}
	previous, replaced := bucket[ref.ID]
	copied := resp
	bucket[ref.ID] = &copied

	if replaced {
		oldKey := responseKey(previous.SurveyID, previous.Creator)
		if m.index[oldKey] == ref {
			m.reindex(oldKey)
		}
	}

	key := responseKey(resp.SurveyID, resp.Creator)
	if existing, ok := m.index[key]; !ok || refLess(ref, existing) {
		m.index[key] = ref
	}
}

// Survey returns a copy of the survey's field groups.
func (m *MemoryRecords) Survey(surveyID string) (map[string]SurveyGroup, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	survey, ok := m.surveys[surveyID]
	if !ok {
		return nil, false
	}
	out := make(map[string]SurveyGroup, len(survey))
	for name, group := range survey {
		out[name] = *group
	}
	return out, true
}

// Response returns a copy of the response at ref.
func (m *MemoryRecords) Response(ref ResponseRef) (Response, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resp, ok := m.responses[ref.Bucket][ref.ID]
	if !ok {
		return Response{}, false
	}
	return *resp, true
}

func (m *MemoryRecords) MarkSurvey(_ context.Context, surveyID string, flag SurveyFlag) error {
	if flag != SurveyCreated {
		return fmt.Errorf("unsupported survey flag: %s", flag)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	survey, ok := m.surveys[surveyID]
	if !ok {
		return fmt.Errorf("survey %s: %w", surveyID, ErrNotFound)
	}
	for _, group := range survey {
		group.Created = true
	}
	return nil
}

func (m *MemoryRecords) FindResponse(_ context.Context, surveyID, respondent string) (ResponseRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ref, ok := m.index[responseKey(surveyID, respondent)]
	if !ok {
		return ResponseRef{}, fmt.Errorf("response %s/%s: %w", surveyID, respondent, ErrNotFound)
	}
	return ref, nil
}

func (m *MemoryRecords) MarkResponse(_ context.Context, ref ResponseRef, flag ResponseFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, ok := m.responses[ref.Bucket][ref.ID]
	if !ok {
		return fmt.Errorf("response %s/%s: %w", ref.Bucket, ref.ID, ErrNotFound)
	}
	switch flag {
	case ResponseStarted:
		resp.Started = true
	case ResponseCompleted:
		resp.Completed = true
	default:
		return fmt.Errorf("unsupported response flag: %s", flag)
	}
	return nil
}

// ResponseRefs lists every response path in sorted order.
func (m *MemoryRecords) ResponseRefs() []ResponseRef {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]ResponseRef, 0)
	for bucket, items := range m.responses {
		for id := range items {
			refs = append(refs, ResponseRef{Bucket: bucket, ID: id})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refLess(refs[i], refs[j]) })
	return refs
}

func (m *MemoryRecords) reindex(key string) {
	delete(m.index, key)
	for bucket, items := range m.responses {
		for id, resp := range items {
			if responseKey(resp.SurveyID, resp.Creator) != key {
				continue
			}
			ref := ResponseRef{Bucket: bucket, ID: id}
			if existing, ok := m.index[key]; !ok || refLess(ref, existing) {
				m.index[key] = ref
			}
		}
	}
}

// Respondents are compared case-insensitively: the same address may be
// stored checksummed or lowercased.
func responseKey(surveyID, respondent string) string {
	return surveyID + "\x00" + strings.ToLower(respondent)
}

func refLess(a, b ResponseRef) bool {
	if a.Bucket != b.Bucket {
		return a.Bucket < b.Bucket
	}
	return a.ID < b.ID
}

package toolgov

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wombat2006/techdev-sub004/internal/model"
)

// AuditEntry records one ApprovalRequest state transition. The trail is
// append-only for the process lifetime. Stats() does not read it; it counts
// the current state of each request.
type AuditEntry struct {
	ID        string
	From      model.ApprovalState
	To        model.ApprovalState
	At        time.Time
	Decider   string
	Notes     string
	// Pending is the number of still-pending requests immediately after this
	// transition, computed under the same lock that applied it. A callback
	// wanting a live pending-approvals gauge should read this rather than
	// calling Stats(), which would deadlock against the lock transition
	// already holds.
	Pending int
}

// Stats is a point-in-time snapshot of approval counts by state.
type Stats struct {
	CountByState map[model.ApprovalState]int
	Pending      int
}

// Predicate evaluates a conditional approval policy's caller-supplied
// function; true auto-approves.
type Predicate func(toolLabel, operation string, parameters map[string]any) bool

// ApprovalManager implements C5: request/process/stats plus TTL-driven
// expiry of pending requests. A single writer goroutine owns all state
// mutation (the mutex below stands in for that discipline under
// concurrent callers).
type ApprovalManager struct {
	mu        sync.Mutex
	requests  map[string]*model.ApprovalRequest
	audit     []AuditEntry
	ttl       time.Duration
	onTransition func(AuditEntry)
	onPendingChange func(int)
	policies  map[string]toolPolicy
}

type toolPolicy struct {
	policy    model.ApprovalPolicy
	predicate Predicate
}

func NewApprovalManager(ttl time.Duration) *ApprovalManager {
	return &ApprovalManager{
		requests: make(map[string]*model.ApprovalRequest),
		ttl:      ttl,
		policies: make(map[string]toolPolicy),
	}
}

// OnTransition registers a callback invoked after every audited state
// transition (e.g. to update a metrics gauge or emit a FlowTrace entry).
func (m *ApprovalManager) OnTransition(fn func(AuditEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// OnPendingChange registers a callback invoked with the current pending
// count whenever it changes: on creation of a new pending request and on
// every resolution. Unlike OnTransition's AuditEntry.Pending (which only
// fires on resolutions), this also covers the moment a request is created
// and has not yet been auto-approved.
func (m *ApprovalManager) OnPendingChange(fn func(int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPendingChange = fn
}

// RegisterToolPolicy associates a tool label with its ApprovalPolicy and,
// for a "conditional" policy, the predicate used to decide auto-approval.
func (m *ApprovalManager) RegisterToolPolicy(label string, policy model.ApprovalPolicy, pred Predicate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[label] = toolPolicy{policy: policy, predicate: pred}
}

// Request creates a new ApprovalRequest and applies the auto-approval rule:
// risk=low AND policy=never => auto_approved immediately; policy=always or
// risk in {medium,high,critical} => stays pending; policy=conditional =>
// auto-approved iff the registered predicate returns true.
func (m *ApprovalManager) Request(toolLabel, operation string, parameters map[string]any, risk model.Risk, requester string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	req := &model.ApprovalRequest{
		ID:         id,
		ToolLabel:  toolLabel,
		Operation:  operation,
		Parameters: parameters,
		Risk:       risk,
		Requester:  requester,
		State:      model.ApprovalPending,
		CreatedAt:  now,
	}

	pol := m.policies[toolLabel]
	switch {
	case pol.policy == model.PolicyAlways:
		// stays pending
	case risk == model.RiskLow && pol.policy == model.PolicyNever:
		m.transition(req, model.ApprovalAutoApproved, "", "auto-approved: low risk, policy=never", now)
	case pol.policy == model.PolicyConditional && pol.predicate != nil && pol.predicate(toolLabel, operation, parameters):
		m.transition(req, model.ApprovalAutoApproved, "", "auto-approved: conditional predicate satisfied", now)
	}

	m.requests[id] = req
	if req.State == model.ApprovalPending && m.onPendingChange != nil {
		pending := 0
		for _, r := range m.requests {
			if r.State == model.ApprovalPending {
				pending++
			}
		}
		m.onPendingChange(pending)
	}
	return id
}

// Process resolves a pending request. Returns false if the request does
// not exist, is not pending, or has already expired.
func (m *ApprovalManager) Process(id string, approve bool, decider, notes string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return false
	}
	m.expireIfDue(req, time.Now())
	if req.State != model.ApprovalPending {
		return false
	}

	newState := model.ApprovalRejected
	if approve {
		newState = model.ApprovalManuallyApproved
	}
	m.transition(req, newState, decider, notes, time.Now())
	return true
}

// ExpirePending walks all pending requests and transitions any older than
// the TTL (measured from CreatedAt, an absolute clock) to Expired.
func (m *ApprovalManager) ExpirePending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, req := range m.requests {
		if req.State == model.ApprovalPending {
			m.expireIfDue(req, now)
		}
	}
}

func (m *ApprovalManager) expireIfDue(req *model.ApprovalRequest, now time.Time) {
	if req.State == model.ApprovalPending && now.Sub(req.CreatedAt) > m.ttl {
		m.transition(req, model.ApprovalExpired, "", "ttl expired", now)
	}
}

// transition mutates req and appends an audit entry. Caller must hold mu.
func (m *ApprovalManager) transition(req *model.ApprovalRequest, to model.ApprovalState, decider, notes string, at time.Time) {
	from := req.State
	req.State = to
	req.DecidedAt = &at
	req.Decider = decider
	req.Notes = notes

	pending := 0
	for _, r := range m.requests {
		if r.State == model.ApprovalPending {
			pending++
		}
	}

	entry := AuditEntry{ID: req.ID, From: from, To: to, At: at, Decider: decider, Notes: notes, Pending: pending}
	m.audit = append(m.audit, entry)
	if m.onTransition != nil {
		m.onTransition(entry)
	}
	if m.onPendingChange != nil {
		m.onPendingChange(pending)
	}
}

// Get returns a copy of the ApprovalRequest, checking expiry first.
func (m *ApprovalManager) Get(id string) (model.ApprovalRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return model.ApprovalRequest{}, false
	}
	m.expireIfDue(req, time.Now())
	return *req, true
}

// Stats returns a snapshot of the current state of every request, expiring
// due ones first. It is computed from the request table, not from the audit
// trail.
func (m *ApprovalManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{CountByState: make(map[model.ApprovalState]int)}
	for _, req := range m.requests {
		m.expireIfDue(req, time.Now())
		s.CountByState[req.State]++
		if req.State == model.ApprovalPending {
			s.Pending++
		}
	}
	return s
}

// Audit returns a copy of the append-only audit trail.
func (m *ApprovalManager) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
